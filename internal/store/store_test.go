package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/strategy"
)

func TestSaveAndLoadPosition(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos := strategy.Position{
		Token:       "tok1",
		Size:        decimal.NewFromFloat(10.5),
		AvgPrice:    decimal.NewFromFloat(0.55),
		RealizedPnL: decimal.NewFromFloat(1.23),
		LastUpdated: time.Now(),
	}

	if err := s.SavePosition("tok1", pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	loaded, err := s.LoadPosition("tok1")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadPosition returned nil")
	}

	if !loaded.Size.Equal(pos.Size) {
		t.Errorf("Size = %v, want %v", loaded.Size, pos.Size)
	}
	if !loaded.AvgPrice.Equal(pos.AvgPrice) {
		t.Errorf("AvgPrice = %v, want %v", loaded.AvgPrice, pos.AvgPrice)
	}
	if !loaded.RealizedPnL.Equal(pos.RealizedPnL) {
		t.Errorf("RealizedPnL = %v, want %v", loaded.RealizedPnL, pos.RealizedPnL)
	}
}

func TestLoadPositionMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadPosition("nonexistent")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing position, got %+v", loaded)
	}
}

func TestSavePositionOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos1 := strategy.Position{Token: "tok1", Size: decimal.NewFromInt(10)}
	pos2 := strategy.Position{Token: "tok1", Size: decimal.NewFromInt(20)}

	_ = s.SavePosition("tok1", pos1)
	_ = s.SavePosition("tok1", pos2)

	loaded, err := s.LoadPosition("tok1")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if !loaded.Size.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Size = %v, want 20 (latest save)", loaded.Size)
	}
}

func TestLoadAll(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.SavePosition("tokA", strategy.Position{Token: "tokA", Size: decimal.NewFromInt(5)})
	_ = s.SavePosition("tokB", strategy.Position{Token: "tokB", Size: decimal.NewFromInt(-3)})

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	if !all["tokA"].Size.Equal(decimal.NewFromInt(5)) {
		t.Errorf("tokA size = %v, want 5", all["tokA"].Size)
	}
	if !all["tokB"].Size.Equal(decimal.NewFromInt(-3)) {
		t.Errorf("tokB size = %v, want -3", all["tokB"].Size)
	}
}

func TestLoadAllEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected empty map, got %d entries", len(all))
	}
}

func TestRiskJournalAppendAndLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	first := RiskJournalEntry{
		ConditionID: "cond1",
		Reason:      "per-market position limit breached",
		TrippedAt:   time.Now().Add(-time.Hour),
		SleepTill:   time.Now().Add(-time.Minute),
	}
	second := RiskJournalEntry{
		ConditionID: "",
		Reason:      "global exposure limit breached",
		TrippedAt:   time.Now(),
		SleepTill:   time.Now().Add(time.Hour),
	}

	if err := s.AppendRiskJournal(first); err != nil {
		t.Fatalf("AppendRiskJournal: %v", err)
	}
	if err := s.AppendRiskJournal(second); err != nil {
		t.Fatalf("AppendRiskJournal: %v", err)
	}

	entries, err := s.LoadRiskJournal()
	if err != nil {
		t.Fatalf("LoadRiskJournal: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].ConditionID != "cond1" {
		t.Errorf("entries[0].ConditionID = %q, want cond1", entries[0].ConditionID)
	}
	if entries[1].Reason != "global exposure limit breached" {
		t.Errorf("entries[1].Reason = %q, want global exposure limit breached", entries[1].Reason)
	}
}

func TestLoadRiskJournalMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	entries, err := s.LoadRiskJournal()
	if err != nil {
		t.Fatalf("LoadRiskJournal: %v", err)
	}
	if entries != nil {
		t.Errorf("expected nil for missing journal, got %+v", entries)
	}
}
