package graph

import (
	"reflect"
	"testing"
)

type node struct {
	name string
	deps []string
}

func (n node) GetName() string { return n.name }
func (n node) GetDependencies() []string { return n.deps }

func graphOf(nodes ...node) map[string]Node {
	out := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		out[n.name] = n
	}
	return out
}

func TestTopologicalSort(t *testing.T) {
	order, err := TopologicalSort(graphOf(
		node{"scheduler", []string{"source", "storage", "platform"}},
		node{"platform", nil},
		node{"source", nil},
		node{"storage", nil},
	))
	if err != nil {
		t.Fatalf("TopologicalSort() error = %v", err)
	}

	want := []string{"platform", "source", "storage", "scheduler"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("TopologicalSort() = %v, want %v", order, want)
	}
}

func TestTopologicalSortCycle(t *testing.T) {
	_, err := TopologicalSort(graphOf(node{"a", []string{"b"}}, node{"b", []string{"a"}}))
	if err == nil {
		t.Error("TopologicalSort() expected cycle error")
	}
}

func TestValidateGraph(t *testing.T) {
	if err := ValidateGraph(graphOf(node{"a", []string{"missing"}})); err == nil {
		t.Error("ValidateGraph() expected missing dependency error")
	}
}
