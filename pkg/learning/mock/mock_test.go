package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/wordwise/pkg/learning"
)

func TestStore_RecordsAndForwards(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.UpsertPattern(ctx, learning.PatternOccurrence{
		UserID: "u1", Misspelling: "teh", Correction: "the",
		ErrorType: learning.ErrorTypeTransposition, SeenAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertPattern: %v", err)
	}
	p, err := s.GetPattern(ctx, "u1", "teh", "the")
	if err != nil || p == nil {
		t.Fatalf("GetPattern = %v, %v", p, err)
	}
	if got := s.CallCount("UpsertPattern"); got != 1 {
		t.Errorf("UpsertPattern calls = %d, want 1", got)
	}
	calls := s.Calls()
	if len(calls) != 2 || calls[1].Method != "GetPattern" || calls[1].Args[0] != "u1" {
		t.Errorf("unexpected calls: %+v", calls)
	}

	s.Reset()
	if len(s.Calls()) != 0 {
		t.Error("Reset should clear calls")
	}
}

func TestStore_InjectedError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	s.SetErr("AppendEvent", boom)
	if err := s.AppendEvent(ctx, learning.ErrorEvent{ID: "e1", UserID: "u1"}); !errors.Is(err, boom) {
		t.Fatalf("AppendEvent err = %v, want boom", err)
	}
	n, err := s.CountEvents(ctx, "u1")
	if err != nil || n != 0 {
		t.Fatalf("CountEvents = %d, %v; want 0, nil", n, err)
	}

	s.SetErr("AppendEvent", nil)
	if err := s.AppendEvent(ctx, learning.ErrorEvent{
		ID: "e1", UserID: "u1", OriginalText: "teh", CorrectedText: "the",
		ErrorType: learning.ErrorTypeTransposition, Confidence: 0.9,
		Source: learning.SourcePassive, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("AppendEvent after clearing: %v", err)
	}
	if got := s.CallCount("AppendEvent"); got != 2 {
		t.Errorf("AppendEvent calls = %d, want 2", got)
	}
}

func TestStore_LogCorrectionHonoursStepErrors(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := learning.Correction{
		Event: learning.ErrorEvent{
			ID: "e1", UserID: "u1", OriginalText: "their", CorrectedText: "there",
			ErrorType: learning.ErrorTypeHomophone, Confidence: 0.9,
			Source: learning.SourcePassive, CreatedAt: time.Now(),
		},
		Pattern: learning.PatternOccurrence{
			UserID: "u1", Misspelling: "their", Correction: "there",
			ErrorType: learning.ErrorTypeHomophone, SeenAt: time.Now(),
		},
		Pair: &[2]string{"their", "there"},
	}

	boom := errors.New("boom")
	s.SetErr("UpsertConfusionPair", boom)
	if _, err := s.LogCorrection(ctx, c); !errors.Is(err, boom) {
		t.Fatalf("LogCorrection err = %v, want boom", err)
	}
	if n, _ := s.CountEvents(ctx, "u1"); n != 0 {
		t.Fatalf("events after failed LogCorrection = %d, want 0", n)
	}

	s.SetErr("UpsertConfusionPair", nil)
	res, err := s.LogCorrection(ctx, c)
	if err != nil {
		t.Fatalf("LogCorrection: %v", err)
	}
	if res.Pattern == nil || res.Pair == nil || res.Pair.ConfusionCount != 1 {
		t.Errorf("result = %+v, want pattern and pair", res)
	}
	if got := s.CallCount("LogCorrection"); got != 2 {
		t.Errorf("LogCorrection calls = %d, want 2", got)
	}
}
