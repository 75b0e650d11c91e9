package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/markoz2707/opzmanager/internal/logger"
	"github.com/markoz2707/opzmanager/internal/types"
)

type pipelineFixture struct {
	docs      *fakeDocRepo
	chunks    *fakeChunkRepo
	equipment *fakeEquipmentRepo
	embedder  *fakeEmbedder
	reasoning *fakeReasoning
	svc       KnowledgeService

	equipmentID uuid.UUID
	documentID  uuid.UUID
}

func newPipelineFixture(t *testing.T, content string) *pipelineFixture {
	t.Helper()

	docs := newFakeDocRepo()
	chunks := newFakeChunkRepo(docs)
	equipment := newFakeEquipmentRepo()
	embedder := newFakeEmbedder()
	reasoning := &fakeReasoning{reachable: true, responses: []string{`{}`}}

	equipmentID := uuid.New()
	equipment.equipment[equipmentID] = &types.Equipment{ID: equipmentID, Name: "Test server"}

	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	documentID := uuid.New()
	docs.docs[documentID] = &types.KnowledgeDocument{
		ID:          documentID,
		EquipmentID: equipmentID,
		Filename:    "doc.txt",
		StoragePath: path,
		Status:      types.DocumentStatusPending,
	}

	svc := NewKnowledgeService(
		nil,
		logger.NewNop(),
		docs,
		chunks,
		equipment,
		NewLocalTextExtractor(),
		embedder,
		reasoning,
		t.TempDir(),
		50,
		10,
		4,
	)

	return &pipelineFixture{
		docs:        docs,
		chunks:      chunks,
		equipment:   equipment,
		embedder:    embedder,
		reasoning:   reasoning,
		svc:         svc,
		equipmentID: equipmentID,
		documentID:  documentID,
	}
}

func loremText() string {
	var b strings.Builder
	for i := 0; i < 80; i++ {
		b.WriteString("redundant power supply hot swap drive bays dual socket board ")
	}
	return b.String()
}

func TestProcessIndexesDocument(t *testing.T) {
	f := newPipelineFixture(t, loremText())

	if err := f.svc.Process(context.Background(), f.documentID); err != nil {
		t.Fatalf("process: %v", err)
	}

	doc := f.docs.docs[f.documentID]
	if doc.Status != types.DocumentStatusIndexed {
		t.Fatalf("expected indexed, got %s (error: %s)", doc.Status, doc.ErrorMessage)
	}
	if doc.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", doc.Progress)
	}
	if doc.Step != "" || doc.ErrorMessage != "" {
		t.Fatalf("step/error not cleared: %q %q", doc.Step, doc.ErrorMessage)
	}
	if doc.IndexedAt == nil {
		t.Fatalf("indexedAt not set")
	}

	stored := f.chunks.chunks[f.documentID]
	if len(stored) == 0 {
		t.Fatalf("no chunks stored")
	}
	if doc.ChunkCount != len(stored) {
		t.Fatalf("chunkCount %d != stored %d", doc.ChunkCount, len(stored))
	}
	for i, c := range stored {
		if c.Vector() == nil {
			t.Fatalf("chunk %d has no embedding", i)
		}
		if c.TokenCount == 0 {
			t.Fatalf("chunk %d has no token estimate", i)
		}
	}

	// Progress must never decrease while processing.
	for i := 1; i < len(f.docs.progressLog); i++ {
		if f.docs.progressLog[i] < f.docs.progressLog[i-1] {
			t.Fatalf("progress regressed: %v", f.docs.progressLog)
		}
	}
}

func TestProcessEmptyTextFails(t *testing.T) {
	f := newPipelineFixture(t, "   \n\t ")

	err := f.svc.Process(context.Background(), f.documentID)
	if err == nil {
		t.Fatalf("expected error for empty document")
	}

	doc := f.docs.docs[f.documentID]
	if doc.Status != types.DocumentStatusFailed {
		t.Fatalf("expected failed, got %s", doc.Status)
	}
	if doc.Progress != 0 || doc.Step != "" {
		t.Fatalf("progress/step not reset: %d %q", doc.Progress, doc.Step)
	}
	if doc.ErrorMessage == "" {
		t.Fatalf("errorMessage not set")
	}
	if len(f.chunks.chunks[f.documentID]) != 0 {
		t.Fatalf("chunks persisted for failed document")
	}
}

func TestProcessEmbedErrorFailsWithTruncatedMessage(t *testing.T) {
	f := newPipelineFixture(t, loremText())
	f.embedder.err = errors.New(strings.Repeat("x", 3000))

	if err := f.svc.Process(context.Background(), f.documentID); err == nil {
		t.Fatalf("expected error")
	}

	doc := f.docs.docs[f.documentID]
	if doc.Status != types.DocumentStatusFailed {
		t.Fatalf("expected failed, got %s", doc.Status)
	}
	if len(doc.ErrorMessage) == 0 || len(doc.ErrorMessage) > maxErrorMessageLen {
		t.Fatalf("errorMessage length %d out of bounds", len(doc.ErrorMessage))
	}
}

func TestReprocessReplacesChunkSet(t *testing.T) {
	f := newPipelineFixture(t, loremText())
	ctx := context.Background()

	if err := f.svc.Process(ctx, f.documentID); err != nil {
		t.Fatalf("first process: %v", err)
	}
	firstCount := f.docs.docs[f.documentID].ChunkCount
	firstIDs := map[uuid.UUID]bool{}
	for _, c := range f.chunks.chunks[f.documentID] {
		firstIDs[c.ID] = true
	}

	if err := f.svc.Process(ctx, f.documentID); err != nil {
		t.Fatalf("second process: %v", err)
	}
	doc := f.docs.docs[f.documentID]
	if doc.ChunkCount != firstCount {
		t.Fatalf("chunkCount changed on reprocess: %d -> %d", firstCount, doc.ChunkCount)
	}
	for _, c := range f.chunks.chunks[f.documentID] {
		if firstIDs[c.ID] {
			t.Fatalf("old chunk id survived reprocessing")
		}
	}
}

func TestProcessSpecExtractionFailureKeepsIndexed(t *testing.T) {
	f := newPipelineFixture(t, loremText())
	f.reasoning.errs = []error{errors.New("reasoning down")}

	if err := f.svc.Process(context.Background(), f.documentID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := f.docs.docs[f.documentID].Status; got != types.DocumentStatusIndexed {
		t.Fatalf("spec extraction failure must not revert index, got %s", got)
	}
}

func TestProcessMergesExtractedSpecifications(t *testing.T) {
	f := newPipelineFixture(t, loremText())
	f.reasoning.responses = []string{"```json\n{\"RAM\": \"64 GB\", \"RAID\": \"RAID 10\"}\n```"}

	if err := f.svc.Process(context.Background(), f.documentID); err != nil {
		t.Fatalf("process: %v", err)
	}
	merged := f.equipment.merged[f.equipmentID]
	if merged["RAM"] != "64 GB" || merged["RAID"] != "RAID 10" {
		t.Fatalf("specifications not merged: %v", merged)
	}
}

func TestCreateFromFileStoresAndRecords(t *testing.T) {
	f := newPipelineFixture(t, "unused")

	doc, err := f.svc.CreateFromFile(context.Background(), f.equipmentID, "manual.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if doc.Status != types.DocumentStatusPending {
		t.Fatalf("expected pending, got %s", doc.Status)
	}
	raw, err := os.ReadFile(doc.StoragePath)
	if err != nil || string(raw) != "hello" {
		t.Fatalf("stored file wrong: %v %q", err, raw)
	}
	if _, ok := f.docs.docs[doc.ID]; !ok {
		t.Fatalf("document record missing")
	}
}

func TestDeleteRemovesDocumentChunksAndFile(t *testing.T) {
	f := newPipelineFixture(t, loremText())
	ctx := context.Background()
	if err := f.svc.Process(ctx, f.documentID); err != nil {
		t.Fatalf("process: %v", err)
	}
	path := f.docs.docs[f.documentID].StoragePath

	if err := f.svc.Delete(ctx, f.documentID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := f.docs.docs[f.documentID]; ok {
		t.Fatalf("document record survived delete")
	}
	if len(f.chunks.chunks[f.documentID]) != 0 {
		t.Fatalf("chunks survived delete")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("stored file survived delete")
	}
}

func TestProcessCancelledLeavesDocumentRecoverable(t *testing.T) {
	f := newPipelineFixture(t, loremText())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.svc.Process(ctx, f.documentID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// A shutdown mid-flight must not mark the document failed; the startup
	// recovery scan picks non-terminal documents back up.
	doc := f.docs.docs[f.documentID]
	if doc.Status.Terminal() {
		t.Fatalf("cancelled processing must stay non-terminal, got %s", doc.Status)
	}
	if doc.ErrorMessage != "" {
		t.Fatalf("cancelled processing must not record an error, got %q", doc.ErrorMessage)
	}
}
