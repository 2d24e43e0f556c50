package kb

import (
	"errors"
	"sync"
	"testing"

	"github.com/signalsfoundry/handover-simulator/model"
)

func TestAddNodeAssignsSequentialIDs(t *testing.T) {
	store := NewKnowledgeBase()

	pgw, err := store.AddNode(model.NodeKindPgw)
	if err != nil {
		t.Fatalf("AddNode(pgw) error: %v", err)
	}
	enbs, err := store.AddNodes(model.NodeKindEnb, 2)
	if err != nil {
		t.Fatalf("AddNodes(enb) error: %v", err)
	}

	if pgw.ID != 0 {
		t.Fatalf("pgw ID = %d, want 0", pgw.ID)
	}
	for i, enb := range enbs {
		if enb.ID != model.NodeID(i+1) {
			t.Fatalf("enb[%d].ID = %d, want %d", i, enb.ID, i+1)
		}
		if enb.Index != i {
			t.Fatalf("enb[%d].Index = %d, want %d", i, enb.Index, i)
		}
	}
	if enbs[1].Name != "enb-1" {
		t.Fatalf("enb[1].Name = %q, want enb-1", enbs[1].Name)
	}
}

func TestAddNodeUnknownKindFails(t *testing.T) {
	store := NewKnowledgeBase()
	if _, err := store.AddNode(model.NodeKindUnknown); !errors.Is(err, ErrNodeInvalid) {
		t.Fatalf("AddNode(unknown) error = %v, want ErrNodeInvalid", err)
	}
	if _, err := store.AddNodes(model.NodeKindUe, -1); !errors.Is(err, ErrNodeInvalid) {
		t.Fatalf("AddNodes(-1) error = %v, want ErrNodeInvalid", err)
	}
}

func TestGetNodeAndListing(t *testing.T) {
	store := NewKnowledgeBase()
	if _, err := store.AddNodes(model.NodeKindUe, 3); err != nil {
		t.Fatalf("AddNodes error: %v", err)
	}
	if _, err := store.AddNode(model.NodeKindEnb); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}

	got, err := store.GetNode(3)
	if err != nil {
		t.Fatalf("GetNode(3) error: %v", err)
	}
	if got.Kind != model.NodeKindEnb || got.Index != 0 {
		t.Fatalf("GetNode(3) = %+v, want enb index 0", got)
	}
	if _, err := store.GetNode(4); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("GetNode(4) error = %v, want ErrNodeNotFound", err)
	}
	if _, err := store.GetNode(model.InvalidNodeID); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("GetNode(-1) error = %v, want ErrNodeNotFound", err)
	}

	if n := len(store.ListNodes()); n != 4 {
		t.Fatalf("ListNodes len=%d, want 4", n)
	}
	if n := store.Count(model.NodeKindUe); n != 3 {
		t.Fatalf("Count(ue)=%d, want 3", n)
	}
	ues := store.NodesOfKind(model.NodeKindUe)
	for i, ue := range ues {
		if ue.Index != i {
			t.Fatalf("ues[%d].Index = %d", i, ue.Index)
		}
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	store := NewKnowledgeBase()

	var got []Event
	unsubscribe := store.Subscribe(func(e Event) {
		got = append(got, e)
	})

	if _, err := store.AddNode(model.NodeKindRemoteHost); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}
	unsubscribe()
	if _, err := store.AddNode(model.NodeKindPgw); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("received %d events, want 1", len(got))
	}
	if got[0].Type != EventNodeAdded || got[0].Node.Kind != model.NodeKindRemoteHost {
		t.Fatalf("event = %+v, want remote host added", got[0])
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.ListNodes()
			_ = store.NodesOfKind(model.NodeKindUe)
		}()
		go func() {
			defer wg.Done()
			_, _ = store.AddNode(model.NodeKindUe)
		}()
	}
	wg.Wait()

	if n := store.Count(model.NodeKindUe); n != 10 {
		t.Fatalf("Count(ue)=%d, want 10", n)
	}
}
