//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func createShop(t *testing.T, name, subdomain string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{
		"name":      name,
		"subdomain": subdomain,
	})
	resp, err := http.Post(testServer.URL+"/api/v1/shops", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create shop: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create shop: expected 201, got %d", resp.StatusCode)
	}

	var created map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created shop: %v", err)
	}
	id, ok := created["id"].(string)
	if !ok || id == "" {
		t.Fatalf("created shop has no id: %v", created)
	}
	return id
}

func postCommand(t *testing.T, shopID, command string) *http.Response {
	t.Helper()

	url := fmt.Sprintf("%s/api/v1/shops/%s/migration/%s", testServer.URL, shopID, command)
	resp, err := http.Post(url, "application/json", http.NoBody)
	if err != nil {
		t.Fatalf("%s: %v", command, err)
	}
	return resp
}

func getStatus(t *testing.T, shopID string) map[string]any {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/shops/%s/migration", testServer.URL, shopID))
	if err != nil {
		t.Fatalf("get migration: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get migration: expected 200, got %d", resp.StatusCode)
	}

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return status
}

func waitForPhase(t *testing.T, shopID, want string) {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if getStatus(t, shopID)["phase"] == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("shop %s never reached phase %q, last: %v", shopID, want, getStatus(t, shopID)["phase"])
}

func TestMigrationLifecycle(t *testing.T) {
	cleanDB(testPool)

	shopID := createShop(t, "North Bay Repair", "northbay")

	// A shop that has never been advanced reports not_started.
	if phase := getStatus(t, shopID)["phase"]; phase != "not_started" {
		t.Fatalf("expected not_started, got %v", phase)
	}

	resp := postCommand(t, shopID, "advance")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("advance: expected 202, got %d", resp.StatusCode)
	}

	waitForPhase(t, shopID, "legacy_retired")

	status := getStatus(t, shopID)
	if status["read_path"] != "tenant" {
		t.Fatalf("expected tenant reads after retirement, got %v", status["read_path"])
	}

	// Validation reports were persisted along the way.
	resp2, err := http.Get(fmt.Sprintf("%s/api/v1/shops/%s/migration/reports", testServer.URL, shopID))
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	var reports []map[string]any
	if err := json.NewDecoder(resp2.Body).Decode(&reports); err != nil {
		t.Fatalf("decode reports: %v", err)
	}
	if len(reports) < 2 {
		t.Fatalf("expected at least 2 validation reports, got %d", len(reports))
	}
}

func TestCommandsOnRetiredShopAreRejected(t *testing.T) {
	cleanDB(testPool)

	shopID := createShop(t, "Dockside Electronics", "dockside")

	resp := postCommand(t, shopID, "advance")
	_ = resp.Body.Close()
	waitForPhase(t, shopID, "legacy_retired")

	resp2 := postCommand(t, shopID, "rollback")
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("rollback after retirement: expected 409, got %d", resp2.StatusCode)
	}

	resp3 := postCommand(t, shopID, "retry")
	defer func() { _ = resp3.Body.Close() }()
	if resp3.StatusCode != http.StatusConflict {
		t.Fatalf("retry on non-failed shop: expected 409, got %d", resp3.StatusCode)
	}
}

func TestFleetOverviewListsAllShops(t *testing.T) {
	cleanDB(testPool)

	a := createShop(t, "Shop A", "shop-a")
	b := createShop(t, "Shop B", "shop-b")

	for _, id := range []string{a, b} {
		resp := postCommand(t, id, "advance")
		_ = resp.Body.Close()
		waitForPhase(t, id, "legacy_retired")
	}

	resp, err := http.Get(testServer.URL + "/api/v1/migrations")
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var recs []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		t.Fatalf("decode migrations: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 migration records, got %d", len(recs))
	}
}
