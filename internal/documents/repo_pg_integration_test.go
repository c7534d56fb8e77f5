//go:build integration

package documents_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"docparse-backend/internal/documents"
	"docparse-backend/internal/shared/storage/db"
)

func setupPostgres(t *testing.T) *documents.PGRepo {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("docparse_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/docparse_test?sslmode=disable", host, port.Port())
	conn, err := db.Connect(ctx, dsn, db.DefaultMigrateOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, db.RunMigrations(ctx, conn))
	return &documents.PGRepo{DB: conn}
}

func imageDoc(owner string) documents.Document {
	id := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)
	return documents.Document{
		ID:           id,
		OwnerID:      owner,
		ArtifactPath: owner + "/" + id + ".jpg",
		MediaType:    "image/jpeg",
		Category:     documents.CategoryImage,
		Status:       documents.StatusProcessing,
		OriginalName: "scan.png",
		SizeBytes:    100,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestPGRepoImageQuotaIsEnforcedByTheStore(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Insert(ctx, imageDoc("racer"))
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		require.True(t, errors.Is(err, documents.ErrImageQuota), "unexpected error: %v", err)
	}
	require.Equal(t, 1, accepted)

	has, err := repo.HasImage(ctx, "racer")
	require.NoError(t, err)
	require.True(t, has)
}

func TestPGRepoTransitionLifecycle(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()

	doc := imageDoc("owner")
	require.NoError(t, repo.Insert(ctx, doc))

	done, err := repo.Transition(ctx, doc.ID, documents.TransitionRequest{
		To:      documents.StatusCompleted,
		Actor:   documents.ActorWorker,
		Content: &documents.Content{Fields: []documents.Field{{Label: "name", Value: "Ada"}}},
	})
	require.NoError(t, err)
	require.Equal(t, documents.StatusCompleted, done.Status)
	require.Len(t, done.Transitions, 1)

	_, err = repo.Transition(ctx, doc.ID, documents.TransitionRequest{
		To:     documents.StatusFailed,
		Actor:  documents.ActorReconciler,
		Reason: "extraction timed out",
	})
	require.ErrorIs(t, err, documents.ErrInvalidTransition)

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusCompleted, got.Status)
	require.NotNil(t, got.Content)
	require.Equal(t, "Ada", got.Content.Fields[0].Value)
}

func TestPGRepoRejectsCompletedWithoutContent(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()

	doc := imageDoc("owner")
	doc.Category = documents.CategoryPDF
	doc.Status = documents.StatusCompleted
	require.Error(t, repo.Insert(ctx, doc))

	docs, err := repo.Query(ctx, documents.Filter{OwnerID: "owner"})
	require.NoError(t, err)
	require.Empty(t, docs)
}
