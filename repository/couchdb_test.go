package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/emberwallet/go-vault-server/types"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

var url = "http://localhost:5689"

func InitMockDatabase(dbName string) (Repository, error) {
	httpmock.Activate()

	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s", url, "_all_dbs"),
		httpmock.NewStringResponder(200, `[]`))

	mr, mErr := httpmock.NewJsonResponder(201, types.OK{IsOK: true})
	if mErr != nil {
		return nil, mErr
	}
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s", url, dbName), mr)
	httpmock.RegisterResponder("HEAD", fmt.Sprintf("%s/%s", url, dbName), mr)
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s", url, dbName), mr)

	db, err := NewCouchDBRepository(url, dbName, "test", "test", true)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func deactivateMock() {
	httpmock.DeactivateAndReset()
}

func TestInitNewDatabase(t *testing.T) {
	db, err := InitMockDatabase("test")
	defer deactivateMock()
	if err != nil {
		t.Fatal(err)
	}
	if db == nil {
		t.Fatal("db is nil")
	}
}

func TestGetByID(t *testing.T) {
	db, _ := InitMockDatabase("test")
	defer deactivateMock()

	mk, _ := httpmock.NewJsonResponder(201, types.OK{IsOK: true})
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s/%s", url, "test", "doc1"), mk)

	mk, _ = httpmock.NewJsonResponder(200, types.BaseDocument{ID: "doc1"})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/%s", url, "test", "doc1"), mk)

	sErr := db.Save(context.Background(), "doc1", &types.BaseDocument{
		ID: "doc1",
	})
	if sErr != nil {
		t.Fatal(sErr)
	}
	res, err := db.GetByID(context.Background(), "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("res is nil")
	}
	var doc types.BaseDocument
	mErr := MapToObject(res, &doc)
	if mErr != nil {
		t.Fatal(mErr)
	}
	assert.Equal(t, "doc1", doc.ID)
}

func TestGetByIDNotFound(t *testing.T) {
	db, _ := InitMockDatabase("test")
	defer deactivateMock()

	mk, _ := httpmock.NewJsonResponder(404, types.CouchDBError{Error: "not_found", Reason: "missing"})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/%s", url, "test", "missing"), mk)

	_, err := db.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestChooseDB(t *testing.T) {
	db, _ := InitMockDatabase("test")
	defer deactivateMock()

	selector := NewCouchDBSelector()
	selector.AddDB(db)

	chosen, err := selector.ChooseDB("test")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "test", chosen.GetDBName())

	_, err = selector.ChooseDB("nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
