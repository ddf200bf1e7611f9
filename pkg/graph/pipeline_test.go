package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/threadline-ai/threadline/backend/pkg/ai"
	"github.com/threadline-ai/threadline/backend/pkg/ai/mock"
	"github.com/threadline-ai/threadline/backend/pkg/common"
	memstore "github.com/threadline-ai/threadline/backend/pkg/store/memory"
)

type staticLoader struct {
	texts map[string]string
}

func (l *staticLoader) LoadText(_ context.Context, key string) (string, error) {
	text, ok := l.texts[key]
	if !ok {
		return "", fmt.Errorf("no text at key %s", key)
	}
	return text, nil
}

func fixedRecognizer(recognitions map[string]*ai.Recognition) *mock.Recognizer {
	r := mock.NewRecognizer()
	r.RecognizeFunc = func(_ context.Context, chunkID, text string) (*ai.Recognition, error) {
		if rec, ok := recognitions[text]; ok {
			out := *rec
			out.ChunkID = chunkID
			return &out, nil
		}
		return &ai.Recognition{ChunkID: chunkID}, nil
	}
	return r
}

func seedSource(t *testing.T, s *memstore.Store, kind string) common.SourceRecord {
	t.Helper()
	rec := common.SourceRecord{
		ID:      "src-1",
		OrgID:   "org-1",
		Kind:    kind,
		TextKey: "org-1/src-1.txt",
	}
	if err := s.UpsertSource(context.Background(), rec); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}
	return rec
}

func TestProcessIndexesSource(t *testing.T) {
	s := memstore.New()
	seedSource(t, s, common.SourceKindDocument)

	text := "Ada Lovelace worked with Charles Babbage on the Analytical Engine."
	recognizer := fixedRecognizer(map[string]*ai.Recognition{
		text: {
			Entities: []ai.EntityMention{
				{Name: "Ada Lovelace", Type: "PERSON", Confidence: 0.95},
				{Name: "Charles Babbage", Type: "PERSON", Confidence: 0.9},
				{Name: "Analytical Engine", Type: "PRODUCT", Confidence: 0.85},
			},
			Relationships: []ai.RelationshipMention{
				{SourceName: "Ada Lovelace", TargetName: "Charles Babbage", Type: "worked_with", Confidence: 0.8},
				{SourceName: "Ada Lovelace", TargetName: "Unknown Entity", Type: "worked_with", Confidence: 0.8},
			},
		},
	})

	pipeline := &Pipeline{
		Store:      s,
		Loader:     &staticLoader{texts: map[string]string{"org-1/src-1.txt": text}},
		Recognizer: recognizer,
	}

	if err := pipeline.Process(context.Background(), "org-1", "src-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	source, err := s.GetSource(context.Background(), "org-1", "src-1")
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if source.Status != common.SourceStatusIndexed {
		t.Errorf("status = %q, want indexed", source.Status)
	}

	chunks, err := s.ListChunksBySource(context.Background(), "org-1", "src-1")
	if err != nil {
		t.Fatalf("ListChunksBySource: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}

	entities, err := s.TopEntities(context.Background(), "org-1", 10, nil)
	if err != nil {
		t.Fatalf("TopEntities: %v", err)
	}
	if len(entities) != 3 {
		t.Fatalf("entities = %d, want 3", len(entities))
	}
	for _, entity := range entities {
		if entity.MentionCount != 1 || entity.DocumentCount != 1 {
			t.Errorf("entity %s counts = %d/%d, want 1/1", entity.Name, entity.MentionCount, entity.DocumentCount)
		}
	}

	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	relationships, err := s.ListRelationshipsAmong(context.Background(), "org-1", ids, nil)
	if err != nil {
		t.Fatalf("ListRelationshipsAmong: %v", err)
	}
	// The dangling endpoint mention must be dropped.
	if len(relationships) != 1 {
		t.Fatalf("relationships = %d, want 1", len(relationships))
	}
	if len(relationships[0].EvidenceChunkIDs) != 1 || relationships[0].EvidenceChunkIDs[0] != chunks[0].ID {
		t.Errorf("evidence = %v, want the chunk id", relationships[0].EvidenceChunkIDs)
	}
}

func TestProcessRepeatMentionsAdvanceCounts(t *testing.T) {
	s := memstore.New()
	seedSource(t, s, common.SourceKindDocument)

	text := "Threadline ships weekly."
	recognizer := fixedRecognizer(map[string]*ai.Recognition{
		text: {
			Entities: []ai.EntityMention{
				{Name: "Threadline", Type: "PRODUCT", Confidence: 0.9},
			},
		},
	})
	pipeline := &Pipeline{
		Store:      s,
		Loader:     &staticLoader{texts: map[string]string{"org-1/src-1.txt": text}},
		Recognizer: recognizer,
	}

	for i := 0; i < 2; i++ {
		if err := pipeline.Process(context.Background(), "org-1", "src-1"); err != nil {
			t.Fatalf("Process round %d: %v", i, err)
		}
	}

	entities, err := s.TopEntities(context.Background(), "org-1", 10, nil)
	if err != nil {
		t.Fatalf("TopEntities: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("entities = %d, want 1", len(entities))
	}
	if entities[0].MentionCount != 2 {
		t.Errorf("mention count = %d, want 2", entities[0].MentionCount)
	}
	// Each processing round is a fresh pass over the source.
	if entities[0].DocumentCount != 2 {
		t.Errorf("document count = %d, want 2", entities[0].DocumentCount)
	}
}

func TestProcessLoadFailureMarksSourceFailed(t *testing.T) {
	s := memstore.New()
	seedSource(t, s, common.SourceKindDocument)

	pipeline := &Pipeline{
		Store:      s,
		Loader:     &staticLoader{texts: map[string]string{}},
		Recognizer: mock.NewRecognizer(),
	}

	err := pipeline.Process(context.Background(), "org-1", "src-1")
	if err == nil {
		t.Fatal("expected an error")
	}
	var extractionErr *ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("error type = %T, want *ExtractionError", err)
	}
	if extractionErr.Stage != StageLoad {
		t.Errorf("stage = %q, want %q", extractionErr.Stage, StageLoad)
	}

	source, getErr := s.GetSource(context.Background(), "org-1", "src-1")
	if getErr != nil {
		t.Fatalf("GetSource: %v", getErr)
	}
	if source.Status != common.SourceStatusFailed {
		t.Errorf("status = %q, want failed", source.Status)
	}
	if source.ErrorMessage == "" {
		t.Error("expected an error message on the source record")
	}
}

func TestProcessRecognitionFailureRetriesThenFails(t *testing.T) {
	s := memstore.New()
	seedSource(t, s, common.SourceKindDocument)

	attempts := 0
	recognizer := mock.NewRecognizer()
	recognizer.RecognizeFunc = func(_ context.Context, _, _ string) (*ai.Recognition, error) {
		attempts++
		return nil, errors.New("model unavailable")
	}

	pipeline := &Pipeline{
		Store:      s,
		Loader:     &staticLoader{texts: map[string]string{"org-1/src-1.txt": "Some text."}},
		Recognizer: recognizer,
		MaxRetries: 3,
	}

	err := pipeline.Process(context.Background(), "org-1", "src-1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	source, _ := s.GetSource(context.Background(), "org-1", "src-1")
	if source.Status != common.SourceStatusFailed {
		t.Errorf("status = %q, want failed", source.Status)
	}
}

func TestProcessRetryAfterClearedFaultReachesIndexed(t *testing.T) {
	s := memstore.New()
	seedSource(t, s, common.SourceKindDocument)

	faulty := true
	recognizer := mock.NewRecognizer()
	recognizer.RecognizeFunc = func(_ context.Context, chunkID, _ string) (*ai.Recognition, error) {
		if faulty {
			return nil, errors.New("model unavailable")
		}
		return &ai.Recognition{
			ChunkID: chunkID,
			Entities: []ai.EntityMention{
				{Name: "Grace Hopper", Type: "PERSON", Confidence: 0.9},
			},
		}, nil
	}

	pipeline := &Pipeline{
		Store:      s,
		Loader:     &staticLoader{texts: map[string]string{"org-1/src-1.txt": "Grace Hopper built COBOL."}},
		Recognizer: recognizer,
		MaxRetries: 1,
	}

	if err := pipeline.Process(context.Background(), "org-1", "src-1"); err == nil {
		t.Fatal("expected the first run to fail")
	}
	source, _ := s.GetSource(context.Background(), "org-1", "src-1")
	if source.Status != common.SourceStatusFailed || source.ErrorMessage == "" {
		t.Fatalf("after failure: %+v, want failed with message", source)
	}

	// Operator retry: reset to pending, then reprocess with the fault gone.
	if err := s.UpdateSourceStatus(context.Background(), "org-1", "src-1", common.SourceStatusPending, ""); err != nil {
		t.Fatalf("UpdateSourceStatus: %v", err)
	}
	faulty = false

	if err := pipeline.Process(context.Background(), "org-1", "src-1"); err != nil {
		t.Fatalf("Process after retry: %v", err)
	}
	source, _ = s.GetSource(context.Background(), "org-1", "src-1")
	if source.Status != common.SourceStatusIndexed || source.ErrorMessage != "" {
		t.Errorf("after retry: %+v, want indexed with no message", source)
	}

	entities, err := s.TopEntities(context.Background(), "org-1", 10, nil)
	if err != nil {
		t.Fatalf("TopEntities: %v", err)
	}
	if len(entities) != 1 || entities[0].Name != "Grace Hopper" {
		t.Errorf("entities = %+v, want Grace Hopper", entities)
	}
}

func TestExtractFromStoredChunks(t *testing.T) {
	s := memstore.New()
	seedSource(t, s, common.SourceKindDocument)

	chunks := []common.ChunkRecord{
		{ID: "chunk-1", OrgID: "org-1", SourceID: "src-1", Index: 0, Content: "Grace Hopper built COBOL."},
	}
	if err := s.ReplaceChunks(context.Background(), "org-1", "src-1", chunks); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	recognizer := fixedRecognizer(map[string]*ai.Recognition{
		"Grace Hopper built COBOL.": {
			Entities: []ai.EntityMention{
				{Name: "Grace Hopper", Type: "PERSON", Confidence: 0.95},
			},
		},
	})
	pipeline := &Pipeline{Store: s, Recognizer: recognizer}

	if err := pipeline.ExtractFromStoredChunks(context.Background(), "org-1", "src-1"); err != nil {
		t.Fatalf("ExtractFromStoredChunks: %v", err)
	}

	entities, err := s.TopEntities(context.Background(), "org-1", 10, nil)
	if err != nil {
		t.Fatalf("TopEntities: %v", err)
	}
	if len(entities) != 1 || entities[0].Name != "Grace Hopper" {
		t.Errorf("entities = %+v, want Grace Hopper", entities)
	}
}
