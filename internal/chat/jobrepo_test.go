package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mfifer/docchat/internal/common"
)

func newJobRepo(t *testing.T) *JobRepo {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Job{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewJobRepo(db)
}

func newQueuedJob(t *testing.T, sessionID, question string, idempotencyKey string) *Job {
	t.Helper()
	id, err := common.NewULID()
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	j := &Job{ID: id, SessionID: sessionID, Question: question, Status: JobQueued}
	if idempotencyKey != "" {
		j.IdempotencyKey = &idempotencyKey
	}
	return j
}

func TestJobRepo_CreateAndGet(t *testing.T) {
	repo := newJobRepo(t)
	ctx := context.Background()

	job := newQueuedJob(t, "s1", "what is a monad?", "")
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SessionID != "s1" || got.Question != "what is a monad?" || got.Status != JobQueued {
		t.Fatalf("unexpected row: %+v", got)
	}

	if _, err := repo.GetByID(ctx, "no-such-job"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record-not-found, got %v", err)
	}
}

func TestJobRepo_StatusTransitions(t *testing.T) {
	repo := newJobRepo(t)
	ctx := context.Background()

	job := newQueuedJob(t, "s1", "q", "")
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.MarkRunning(ctx, job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	got, _ := repo.GetByID(ctx, job.ID)
	if got.Status != JobRunning {
		t.Fatalf("expected running, got %s", got.Status)
	}

	if err := repo.MarkSucceeded(ctx, job.ID, "the answer", "the query"); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	got, _ = repo.GetByID(ctx, job.ID)
	if got.Status != JobSucceeded {
		t.Fatalf("expected succeeded, got %s", got.Status)
	}
	if got.Answer == nil || *got.Answer != "the answer" {
		t.Fatalf("answer not recorded: %+v", got)
	}
	if got.SearchQuery == nil || *got.SearchQuery != "the query" {
		t.Fatalf("search query not recorded: %+v", got)
	}
	if got.Error != nil {
		t.Fatalf("error should be clear on success, got %q", *got.Error)
	}
}

func TestJobRepo_MarkRunningOnlyFromQueued(t *testing.T) {
	repo := newJobRepo(t)
	ctx := context.Background()

	job := newQueuedJob(t, "s1", "q", "")
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkFailed(ctx, job.ID, "provider timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// Redelivered message must not resurrect a finished job.
	if err := repo.MarkRunning(ctx, job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	got, _ := repo.GetByID(ctx, job.ID)
	if got.Status != JobFailed {
		t.Fatalf("terminal job was resurrected to %s", got.Status)
	}
	if got.Error == nil || *got.Error != "provider timeout" {
		t.Fatalf("failure reason not recorded: %+v", got)
	}
}

func TestJobRepo_IdempotentCreate(t *testing.T) {
	repo := newJobRepo(t)
	ctx := context.Background()

	first := newQueuedJob(t, "s1", "q", "key-1")
	created, wasNew, err := repo.CreateOrGetExisting(ctx, first)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !wasNew || created.ID != first.ID {
		t.Fatalf("first create should insert: new=%v id=%s", wasNew, created.ID)
	}

	second := newQueuedJob(t, "s1", "q", "key-1")
	got, wasNew, err := repo.CreateOrGetExisting(ctx, second)
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if wasNew {
		t.Fatalf("duplicate key must not insert a second row")
	}
	if got.ID != first.ID {
		t.Fatalf("expected original job back, got %s", got.ID)
	}
}

func TestJobRepo_MissingKeysDoNotCollide(t *testing.T) {
	repo := newJobRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := newQueuedJob(t, "s1", "q", "")
		if _, created, err := repo.CreateOrGetExisting(ctx, job); err != nil || !created {
			t.Fatalf("keyless create %d: created=%v err=%v", i, created, err)
		}
	}
}
