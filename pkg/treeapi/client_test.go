package treeapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/treenav/pkg/model"
	"github.com/Dicklesworthstone/treenav/pkg/treeapi"
	"github.com/Dicklesworthstone/treenav/pkg/treeapi/treeapitest"
)

func newTestClient(t *testing.T) (*treeapi.Client, *treeapitest.Server) {
	t.Helper()
	fake := treeapitest.SampleTaxonomy()
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	c, err := treeapi.NewClient(treeapi.Config{
		BaseURL: srv.URL,
		Tree:    model.TreeRef{Name: "taxon", Table: "Taxon", TreeDef: 1},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return c, fake
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  treeapi.Config
	}{
		{"NoBase", treeapi.Config{Tree: model.TreeRef{Table: "taxon"}}},
		{"RelativeBase", treeapi.Config{BaseURL: "localhost/specify", Tree: model.TreeRef{Table: "taxon"}}},
		{"NoTable", treeapi.Config{BaseURL: "http://localhost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := treeapi.NewClient(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestClient_ChildrenOfTop(t *testing.T) {
	c, fake := newTestClient(t)

	rows, err := c.Children(context.Background(), model.TopOfTree)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Animalia", rows[0].Name)
	assert.Equal(t, 10, rows[0].Rank)
	assert.True(t, rows[0].HasChildren)
	assert.Equal(t, "Plantae", rows[1].Name)
	assert.Equal(t, 1, fake.Calls(treeapitest.RouteChildren))
}

func TestClient_ChildrenOfNode(t *testing.T) {
	c, _ := newTestClient(t)

	rows, err := c.Children(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Aves", "Mammalia"}, []string{rows[0].Name, rows[1].Name})
	assert.Equal(t, "Animalia Chordata Aves", rows[0].FullName)
	assert.False(t, rows[0].HasChildren)
}

func TestClient_ChildrenFailure(t *testing.T) {
	c, fake := newTestClient(t)
	fake.FailChildren[5] = true

	_, err := c.Children(context.Background(), 5)
	require.Error(t, err)
	var apiErr *treeapi.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "children unavailable", treeapi.Reason(err))
}

func TestClient_PathSkipsNonObjects(t *testing.T) {
	c, _ := newTestClient(t)

	entries, err := c.Path(context.Background(), 20)
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	ids := model.PathIDs(model.SortPath(entries))
	assert.Equal(t, []int{1, 5, 10, 20}, ids)
}

func TestClient_Ranks(t *testing.T) {
	c, _ := newTestClient(t)

	ranks, err := c.Ranks(context.Background())
	require.NoError(t, err)
	require.Len(t, ranks, 4)
	assert.Equal(t, "Kingdom", ranks[0].Name)
	assert.Equal(t, 40, ranks[3].RankID)
}

func TestClient_SaveRecordReparents(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	rec, err := c.Record(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, "/api/specify/taxon/6/", rec.Parent())
	assert.Equal(t, 1, rec.Int("version"))

	rec.SetParent(c.RecordURI(5))
	require.NoError(t, c.SaveRecord(ctx, rec))
	assert.Equal(t, 5, fake.ParentOf(12))
}

func TestClient_SaveRecordRejected(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	// Chordata under its own descendant Mammalia is a cycle.
	rec, err := c.Record(ctx, 5)
	require.NoError(t, err)
	rec.SetParent(c.RecordURI(10))
	err = c.SaveRecord(ctx, rec)
	require.Error(t, err)
	assert.Contains(t, treeapi.Reason(err), "cycle")
	assert.Equal(t, 1, fake.ParentOf(5))

	fake.FailSave = "record is locked"
	rec, err = c.Record(ctx, 12)
	require.NoError(t, err)
	rec.SetParent(c.RecordURI(5))
	err = c.SaveRecord(ctx, rec)
	require.Error(t, err)
	assert.Equal(t, "record is locked", treeapi.Reason(err))
}

func TestClient_SaveRecordWithoutID(t *testing.T) {
	c, _ := newTestClient(t)
	err := c.SaveRecord(context.Background(), model.Record{"name": "orphan"})
	assert.Error(t, err)
}

func TestClient_CreateRecord(t *testing.T) {
	c, fake := newTestClient(t)

	created, err := c.CreateRecord(context.Background(), model.Record{
		"name":   "Reptilia",
		"parent": c.RecordURI(5),
		"rankid": 30,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID())
	assert.Equal(t, 5, fake.ParentOf(created.ID()))

	rows, err := c.Children(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestClient_URLs(t *testing.T) {
	c, err := treeapi.NewClient(treeapi.Config{
		BaseURL: "https://specify.example.org/",
		Tree:    model.TreeRef{Table: "Geography", TreeDef: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/specify/geography/7/", c.RecordURI(7))
	assert.Equal(t, "/api/specify/geographytreedefitem/3/", c.RankURI(model.Rank{ID: 3}))
	assert.Equal(t, "https://specify.example.org/specify/view/geography/7/", c.RecordViewURL(7))
	assert.Equal(t, "https://specify.example.org/specify/query/fromtree/geography/7/", c.QueryURL(7))
}

func TestClient_ContextCancelled(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Children(ctx, model.TopOfTree)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "", treeapi.Reason(nil))
	assert.Equal(t, "boom", treeapi.Reason(errors.New("boom")))
	apiErr := &treeapi.APIError{Method: "PUT", URL: "u", StatusCode: 409}
	assert.Contains(t, treeapi.Reason(apiErr), "409")
}
