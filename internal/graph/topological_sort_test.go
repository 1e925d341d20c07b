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

func graphOf(nodes ...node) map[string]Node {
	m := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		m[n.name] = n
	}
	return m
}

func TestTopologicalSortOrdersDependenciesFirst(t *testing.T) {
	order, err := TopologicalSort(graphOf(
		node{name: "server", deps: []string{"storage"}},
		node{name: "storage"},
		node{name: "scratch"},
		node{name: "platforms", deps: []string{"storage", "scratch"}},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"scratch", "storage", "platforms", "server"}, order)
}

func TestTopologicalSortDetectsCycles(t *testing.T) {
	_, err := TopologicalSort(graphOf(
		node{name: "a", deps: []string{"b"}},
		node{name: "b", deps: []string{"a"}},
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestValidateGraphMissingDependency(t *testing.T) {
	err := ValidateGraph(graphOf(node{name: "server", deps: []string{"storage"}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage")
}
