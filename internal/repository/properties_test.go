package repository

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"github.com/helixir/data-repository-service/internal/domain"
)

// recordingClient echoes its inputs back and counts calls per operation.
type recordingClient struct {
	calls map[string]int

	lastID     string
	lastItem   note
	lastUserID *string
	lastQuery  domain.Query
	lastFilter domain.Filter
	lastPipe   []domain.Document

	failWith error
}

func newRecordingClient() *recordingClient {
	return &recordingClient{calls: make(map[string]int)}
}

func (c *recordingClient) Create(_ context.Context, item note, userID *string) (domain.Envelope[note], error) {
	c.calls["Create"]++
	c.lastItem, c.lastUserID = item, userID
	if c.failWith != nil {
		return domain.Envelope[note]{}, c.failWith
	}
	return domain.NewEnvelope(item, nil), nil
}

func (c *recordingClient) Read(_ context.Context, id string, userID *string) (domain.Envelope[note], error) {
	c.calls["Read"]++
	c.lastID, c.lastUserID = id, userID
	if c.failWith != nil {
		return domain.Envelope[note]{}, c.failWith
	}
	return domain.NewEnvelope(note{ID: id, Title: "title-" + id}, nil), nil
}

func (c *recordingClient) ReadAll(_ context.Context, q domain.Query) (domain.Envelope[domain.PaginatedResult[note]], error) {
	c.calls["ReadAll"]++
	c.lastQuery = q
	if c.failWith != nil {
		return domain.Envelope[domain.PaginatedResult[note]]{}, c.failWith
	}
	return domain.NewEnvelope(domain.PaginatedResult[note]{Items: []note{}}, nil), nil
}

func (c *recordingClient) Update(_ context.Context, id string, item note, userID *string) (domain.Envelope[note], error) {
	c.calls["Update"]++
	c.lastID, c.lastItem, c.lastUserID = id, item, userID
	if c.failWith != nil {
		return domain.Envelope[note]{}, c.failWith
	}
	item.ID = id
	return domain.NewEnvelope(item, nil), nil
}

func (c *recordingClient) Delete(_ context.Context, id string, userID *string) error {
	c.calls["Delete"]++
	c.lastID, c.lastUserID = id, userID
	return c.failWith
}

func (c *recordingClient) Count(_ context.Context, filter domain.Filter, userID *string) (domain.Envelope[int64], error) {
	c.calls["Count"]++
	c.lastFilter, c.lastUserID = filter, userID
	if c.failWith != nil {
		return domain.Envelope[int64]{}, c.failWith
	}
	return domain.NewEnvelope(int64(len(filter)), nil), nil
}

func (c *recordingClient) Aggregate(_ context.Context, pipeline []domain.Document, userID *string) (domain.Envelope[[]domain.Document], error) {
	c.calls["Aggregate"]++
	c.lastPipe, c.lastUserID = pipeline, userID
	if c.failWith != nil {
		return domain.Envelope[[]domain.Document]{}, c.failWith
	}
	return domain.NewEnvelope(pipeline, nil), nil
}

func noteGen() *rapid.Generator[note] {
	return rapid.Custom(func(t *rapid.T) note {
		return note{
			ID:    rapid.String().Draw(t, "id"),
			Title: rapid.String().Draw(t, "title"),
			Tags:  rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 0, 4).Draw(t, "tags"),
		}
	})
}

func errGen() *rapid.Generator[error] {
	return rapid.Custom(func(t *rapid.T) error {
		id := rapid.String().Draw(t, "err_id")
		switch rapid.IntRange(0, 3).Draw(t, "err_kind") {
		case 0:
			return domain.NewNotFoundError("notes", id)
		case 1:
			return domain.NewBadRequestError(id)
		case 2:
			return domain.NewForbiddenError(id)
		default:
			return domain.NewFormatError("note", nil)
		}
	})
}

func TestProperty_CreateIsIdentity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		client := newRecordingClient()
		repo := New[note](client)

		item := noteGen().Draw(rt, "item")
		got, err := repo.Create(context.Background(), item)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if got.ID != item.ID || got.Title != item.Title || len(got.Tags) != len(item.Tags) {
			rt.Fatalf("create changed the item: %+v != %+v", got, item)
		}
		if client.calls["Create"] != 1 || len(client.calls) != 1 {
			rt.Fatalf("expected exactly one Create call, got %v", client.calls)
		}
		if client.lastUserID != nil {
			rt.Fatalf("user id substituted: %v", *client.lastUserID)
		}
	})
}

func TestProperty_ReadForwardsID(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		client := newRecordingClient()
		repo := New[note](client)

		id := rapid.String().Draw(rt, "id")
		user := rapid.String().Draw(rt, "user")
		got, err := repo.Read(context.Background(), id, WithUserID(user))
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if client.lastID != id || got.ID != id {
			rt.Fatalf("id not forwarded: sent %q, client saw %q, got %q", id, client.lastID, got.ID)
		}
		if client.lastUserID == nil || *client.lastUserID != user {
			rt.Fatalf("user id not forwarded")
		}
		if client.calls["Read"] != 1 {
			rt.Fatalf("expected one Read call, got %d", client.calls["Read"])
		}
	})
}

func TestProperty_UpdateForwardsBothArguments(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		client := newRecordingClient()
		repo := New[note](client)

		id := rapid.String().Draw(rt, "id")
		item := noteGen().Draw(rt, "item")
		got, err := repo.Update(context.Background(), id, item)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if client.lastID != id || client.lastItem.Title != item.Title || client.lastItem.ID != item.ID {
			rt.Fatalf("arguments not forwarded unchanged")
		}
		if got.ID != id || got.Title != item.Title {
			rt.Fatalf("result not the client's unwrapped payload: %+v", got)
		}
		if client.calls["Update"] != 1 {
			rt.Fatalf("expected one Update call, got %d", client.calls["Update"])
		}
	})
}

func TestProperty_CountAndAggregateForwardArguments(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		client := newRecordingClient()
		repo := New[note](client)

		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,6}`), 0, 5, rapid.ID[string]).Draw(rt, "keys")
		filter := domain.Filter{}
		for _, k := range keys {
			filter[k] = rapid.Int().Draw(rt, "v_"+k)
		}
		n, err := repo.Count(context.Background(), filter)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if n != int64(len(filter)) || len(client.lastFilter) != len(filter) {
			rt.Fatalf("count not forwarded/unwrapped")
		}

		stages := rapid.IntRange(0, 4).Draw(rt, "stages")
		pipeline := make([]domain.Document, stages)
		for i := range pipeline {
			pipeline[i] = domain.Document{"$limit": rapid.IntRange(1, 100).Draw(rt, "limit")}
		}
		docs, err := repo.Aggregate(context.Background(), pipeline)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if len(docs) != len(pipeline) || len(client.lastPipe) != len(pipeline) {
			rt.Fatalf("pipeline not forwarded/unwrapped")
		}
		if client.calls["Count"] != 1 || client.calls["Aggregate"] != 1 {
			rt.Fatalf("unexpected call counts: %v", client.calls)
		}
	})
}

func TestProperty_ErrorsPropagateUnaltered(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		want := errGen().Draw(rt, "err")
		client := newRecordingClient()
		client.failWith = want
		repo := New[note](client)
		ctx := context.Background()

		op := rapid.SampledFrom([]string{"Create", "Read", "ReadAll", "Update", "Delete", "Count", "Aggregate"}).Draw(rt, "op")
		var err error
		switch op {
		case "Create":
			_, err = repo.Create(ctx, note{})
		case "Read":
			_, err = repo.Read(ctx, "x")
		case "ReadAll":
			_, err = repo.ReadAll(ctx)
		case "Update":
			_, err = repo.Update(ctx, "x", note{})
		case "Delete":
			err = repo.Delete(ctx, "x")
		case "Count":
			_, err = repo.Count(ctx, nil)
		case "Aggregate":
			_, err = repo.Aggregate(ctx, nil)
		}
		if err != want {
			rt.Fatalf("%s: error altered: got %v want %v", op, err, want)
		}
		if client.calls[op] != 1 || len(client.calls) != 1 {
			rt.Fatalf("%s: expected a single dispatch, got %v", op, client.calls)
		}
	})
}
