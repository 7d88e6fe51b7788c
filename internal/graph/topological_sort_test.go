package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	name string
	deps []string
}

func (n node) GetName() string           { return n.name }
func (n node) GetDependencies() []string { return n.deps }

func nodes(list ...node) map[string]Node {
	out := make(map[string]Node, len(list))
	for _, n := range list {
		out[n.name] = n
	}
	return out
}

func TestTopologicalSortOrdersDependenciesFirst(t *testing.T) {
	order, err := TopologicalSort(nodes(
		node{name: "discord", deps: []string{"storage", "follow_list"}},
		node{name: "storage"},
		node{name: "follow_list"},
		node{name: "metrics"},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"follow_list", "storage", "discord", "metrics"}, order)
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	_, err := TopologicalSort(nodes(
		node{name: "a", deps: []string{"b"}},
		node{name: "b", deps: []string{"a"}},
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateGraphMissingDependency(t *testing.T) {
	err := ValidateGraph(nodes(node{name: "discord", deps: []string{"storage"}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage")

	assert.NoError(t, ValidateGraph(nodes(node{name: "storage"})))
}
