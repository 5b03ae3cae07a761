package beaconp2p

import "testing"

func TestMetadataStoreUpdateIncrementsSeqByExactlyOne(t *testing.T) {
	dir := t.TempDir()
	s, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if s.Current().SeqNumber != 0 {
		t.Fatalf("expected fresh store at seq 0, got %d", s.Current().SeqNumber)
	}

	for want := uint64(1); want <= 3; want++ {
		m, err := s.Update(func(m *Metadata) { m.AttnetsBitfield[0] |= 1 })
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if m.SeqNumber != want {
			t.Fatalf("seq = %d, want %d", m.SeqNumber, want)
		}
	}
}

func TestMetadataStoreReloadsPersistedState(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := s1.Update(func(m *Metadata) { m.AttnetsBitfield[1] = 0xff }); err != nil {
		t.Fatalf("update: %v", err)
	}

	s2, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	got := s2.Current()
	if got.SeqNumber != 1 {
		t.Fatalf("reloaded seq = %d, want 1", got.SeqNumber)
	}
	if got.AttnetsBitfield[1] != 0xff {
		t.Fatalf("reloaded bitfield did not match persisted state: %v", got.AttnetsBitfield)
	}
}

func TestMetadataStoreSetSubnetBitBumpsSeqForUnrelatedKind(t *testing.T) {
	dir := t.TempDir()
	s, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	before := s.Current()
	after, err := s.SetSubnetBit(KindBeaconBlock, 0, true)
	if err != nil {
		t.Fatalf("set subnet bit: %v", err)
	}
	if after.SeqNumber != before.SeqNumber+1 {
		t.Fatalf("expected seq bump even on a no-op field mutation, got %d -> %d", before.SeqNumber, after.SeqNumber)
	}
}
