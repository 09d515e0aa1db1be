package renderer

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

func TestQueueBudgetClaim(t *testing.T) {
	families := metadata.QueueFamilyIndices{Graphics: 0, Compute: 1, GraphicsCount: 4, ComputeCount: 2}
	b := NewQueueBudget(families)

	tests := []struct {
		req       metadata.QueueRequirements
		wantStart metadata.QueueStartIndices
		wantErr   bool
	}{
		{metadata.QueueRequirements{Graphics: 1, Compute: 0}, metadata.QueueStartIndices{Graphics: 0, Compute: 0}, false},
		{metadata.QueueRequirements{Graphics: 2, Compute: 1}, metadata.QueueStartIndices{Graphics: 1, Compute: 0}, false},
		{metadata.QueueRequirements{Graphics: 2, Compute: 0}, metadata.QueueStartIndices{}, true},
		{metadata.QueueRequirements{Graphics: 0, Compute: 2}, metadata.QueueStartIndices{}, true},
		{metadata.QueueRequirements{Graphics: 1, Compute: 1}, metadata.QueueStartIndices{Graphics: 3, Compute: 1}, false},
		{metadata.QueueRequirements{Graphics: 0, Compute: 0}, metadata.QueueStartIndices{Graphics: 4, Compute: 2}, false},
	}
	for i, tt := range tests {
		start, err := b.Claim(tt.req)
		if (err != nil) != tt.wantErr {
			t.Fatalf("claim %d: err = %v, wantErr %v", i, err, tt.wantErr)
		}
		if err != nil {
			if !errors.Is(err, core.ErrResourceExhausted) {
				t.Errorf("claim %d: err = %v, want ErrResourceExhausted", i, err)
			}
			continue
		}
		if start != tt.wantStart {
			t.Errorf("claim %d: start = %+v, want %+v", i, start, tt.wantStart)
		}
	}
	if b.GraphicsAvailable() != 0 || b.ComputeAvailable() != 0 {
		t.Errorf("available = (%d, %d), want (0, 0)", b.GraphicsAvailable(), b.ComputeAvailable())
	}
}

func TestQueueBudgetFailedClaimMutatesNothing(t *testing.T) {
	b := NewQueueBudget(metadata.QueueFamilyIndices{Graphics: 0, Compute: 1, GraphicsCount: 2, ComputeCount: 1})
	if _, err := b.Claim(metadata.QueueRequirements{Graphics: 1, Compute: 2}); err == nil {
		t.Fatal("claim above compute budget succeeded")
	}
	if b.GraphicsAvailable() != 2 || b.ComputeAvailable() != 1 {
		t.Errorf("available = (%d, %d), want (2, 1)", b.GraphicsAvailable(), b.ComputeAvailable())
	}
}

func TestQueueBudgetReserveDoesNotConsume(t *testing.T) {
	b := NewQueueBudget(metadata.QueueFamilyIndices{Graphics: 0, Compute: 1, GraphicsCount: 2, ComputeCount: 1})
	for i := 0; i < 3; i++ {
		start, err := b.Reserve(metadata.QueueRequirements{Graphics: 2, Compute: 1})
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if start != (metadata.QueueStartIndices{}) {
			t.Errorf("reserve %d: start = %+v, want zero", i, start)
		}
	}
	if b.GraphicsAvailable() != 2 {
		t.Errorf("GraphicsAvailable = %d, want 2", b.GraphicsAvailable())
	}
}

func TestQueueBudgetSharedFamily(t *testing.T) {
	b := NewQueueBudget(metadata.QueueFamilyIndices{Graphics: 0, Compute: 0, GraphicsCount: 4, ComputeCount: 4})

	start, err := b.Claim(metadata.QueueRequirements{Graphics: 1, Compute: 1})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if start.Graphics != 0 || start.Compute != 1 {
		t.Errorf("start = %+v, want {0 1}", start)
	}
	start, err = b.Claim(metadata.QueueRequirements{Graphics: 1, Compute: 1})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if start.Graphics != 2 || start.Compute != 3 {
		t.Errorf("start = %+v, want {2 3}", start)
	}
	if _, err := b.Claim(metadata.QueueRequirements{Compute: 1}); !errors.Is(err, core.ErrResourceExhausted) {
		t.Errorf("Claim on exhausted shared family: err = %v, want ErrResourceExhausted", err)
	}
}

func TestQueueBudgetNeverExceedsTotals(t *testing.T) {
	b := NewQueueBudget(metadata.QueueFamilyIndices{Graphics: 0, Compute: 1, GraphicsCount: 5, ComputeCount: 3})
	var g, c uint32
	reqs := []metadata.QueueRequirements{{Graphics: 1, Compute: 1}, {Graphics: 2, Compute: 0}, {Graphics: 3, Compute: 3}, {Graphics: 0, Compute: 1}, {Graphics: 1, Compute: 1}, {Graphics: 2, Compute: 2}, {Graphics: 1, Compute: 0}}
	for _, req := range reqs {
		if _, err := b.Claim(req); err == nil {
			g += req.Graphics
			c += req.Compute
		}
		if g > b.GraphicsTotal() || c > b.ComputeTotal() {
			t.Fatalf("claimed (%d, %d) exceeds totals (%d, %d)", g, c, b.GraphicsTotal(), b.ComputeTotal())
		}
		if b.GraphicsAvailable()+g != b.GraphicsTotal() || b.ComputeAvailable()+c != b.ComputeTotal() {
			t.Fatalf("available + claimed does not add up to total")
		}
	}
}

func TestFindMemoryType(t *testing.T) {
	props := metadata.MemoryProperties{Types: []metadata.MemoryType{
		{PropertyFlags: metadata.MemoryPropertyDeviceLocal},
		{PropertyFlags: metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent},
		{PropertyFlags: metadata.MemoryPropertyDeviceLocal | metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent},
	}}
	hostCoherent := metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent

	tests := []struct {
		name    string
		bits    uint32
		flags   metadata.MemoryPropertyFlags
		want    uint32
		wantErr bool
	}{
		{"device local first fit", 0b111, metadata.MemoryPropertyDeviceLocal, 0, false},
		{"host visible first fit", 0b111, hostCoherent, 1, false},
		{"mask skips type 1", 0b101, hostCoherent, 2, false},
		{"no flags takes lowest allowed", 0b110, 0, 1, false},
		{"no allowed type matches", 0b001, hostCoherent, 0, true},
		{"empty mask", 0, metadata.MemoryPropertyDeviceLocal, 0, true},
		{"unsupported property", 0b111, metadata.MemoryPropertyHostCached, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindMemoryType(props, tt.bits, tt.flags)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FindMemoryType() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, core.ErrUnsupportedConfiguration) {
					t.Errorf("err = %v, want ErrUnsupportedConfiguration", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("FindMemoryType() = %d, want %d", got, tt.want)
			}
		})
	}
}
