package jubelio_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"warehouse-backend/internal/apitest"
	"warehouse-backend/internal/config"
	"warehouse-backend/internal/database/dbtest"
	"warehouse-backend/internal/jubelio"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/stock"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type captured struct {
	mu      sync.Mutex
	auth    string
	mirror  string
	payload []byte
}

// erp is a TLS webhook with a self-signed certificate.
func erp(t *testing.T, status int, answer string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got.mu.Lock()
		got.auth = r.Header.Get("Authorization")
		got.mirror = r.Header.Get("x-mirror-token")
		got.payload = b
		got.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, answer)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func client(url string) *jubelio.Client {
	return jubelio.NewClient(config.JubelioConfig{WebhookURL: url, Token: "secret-token", MirrorToken: "mirror-token"})
}

func TestNewClientDisabledWithoutURL(t *testing.T) {
	if c := jubelio.NewClient(config.JubelioConfig{Token: "x"}); c != nil {
		t.Fatal("expected nil client without webhook url")
	}
}

func TestRelay(t *testing.T) {
	db := dbtest.New(t)
	keeper := apitest.CreateUser(t, db, "keeper", models.RoleStorage, nil)
	srv, got := erp(t, http.StatusAccepted, `{"status":"queued"}`)

	app := apitest.NewApp(db)
	app.Post("/api/save-stock-data", jubelio.RelayHandler(client(srv.URL)))

	resp := apitest.Do(t, app, keeper, http.MethodPost, "/api/save-stock-data", map[string]any{"sku": "A-1", "qty": 3}).
		Expect(t, http.StatusAccepted)
	if !strings.Contains(string(resp.Body), "queued") {
		t.Errorf("expected the ERP body, got %s", resp.Body)
	}

	got.mu.Lock()
	defer got.mu.Unlock()
	if got.auth != "Bearer secret-token" || got.mirror != "mirror-token" {
		t.Errorf("unexpected headers auth=%q mirror=%q", got.auth, got.mirror)
	}
	if string(got.payload) != `{"qty":3,"sku":"A-1"}` {
		t.Errorf("body must be relayed unchanged, got %s", got.payload)
	}
}

func TestRelayErrors(t *testing.T) {
	db := dbtest.New(t)
	keeper := apitest.CreateUser(t, db, "keeper", models.RoleStorage, nil)

	app := apitest.NewApp(db)
	app.Post("/unconfigured", jubelio.RelayHandler(nil))
	srv, _ := erp(t, http.StatusOK, `{}`)
	app.Post("/live", jubelio.RelayHandler(client(srv.URL)))
	down := httptest.NewTLSServer(http.NotFoundHandler())
	down.Close()
	app.Post("/down", jubelio.RelayHandler(client(down.URL)))

	apitest.Do(t, app, keeper, http.MethodPost, "/unconfigured", map[string]any{}).Expect(t, fiber.StatusServiceUnavailable)
	apitest.Do(t, app, keeper, http.MethodPost, "/live", nil).Expect(t, fiber.StatusBadRequest)
	resp := apitest.Do(t, app, keeper, http.MethodPost, "/down", map[string]any{"a": 1}).Expect(t, fiber.StatusBadGateway)
	if resp.Error() == "" {
		t.Error("expected an error message")
	}
}

func TestBuildStockPayloadAndSync(t *testing.T) {
	db := dbtest.New(t)
	keeper := apitest.CreateUser(t, db, "keeper", models.RoleStorage, nil)

	item := models.Item{ProductCode: "SYNC-1", Name: "Cable", Unit: "pcs"}
	db.Create(&item)
	err := db.Transaction(func(tx *gorm.DB) error {
		s, err := stock.FindOrCreate(tx, item.ID, nil, models.ConditionGood)
		if err != nil {
			return err
		}
		if _, err := stock.Move(tx, stock.MoveInput{ItemStockID: s.ID, From: stock.Intake, To: stock.InStorage, Qty: 7}); err != nil {
			return err
		}
		_, err = stock.Move(tx, stock.MoveInput{ItemStockID: s.ID, From: stock.InStorage, To: stock.OnBorrow, Qty: 2})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	p, err := jubelio.BuildStockPayload(db, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BuildStockPayload: %v", err)
	}
	if p.GeneratedAt != "2024-05-01T12:00:00Z" || len(p.Items) != 1 || p.Items[0].Quantity != 5 {
		t.Fatalf("unexpected payload %+v", p)
	}

	srv, got := erp(t, http.StatusOK, `{"ok":true}`)
	app := apitest.NewApp(db)
	app.Post("/api/save-stock-data/sync", jubelio.SyncHandler(client(srv.URL)))

	var res jubelio.SyncResponse
	apitest.Do(t, app, keeper, http.MethodPost, "/api/save-stock-data/sync", nil).Expect(t, fiber.StatusOK).Decode(t, &res)
	if res.Lines != 1 || res.Status != http.StatusOK {
		t.Fatalf("unexpected sync response %+v", res)
	}

	got.mu.Lock()
	defer got.mu.Unlock()
	var sent jubelio.StockPayload
	if err := json.Unmarshal(got.payload, &sent); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if sent.Items[0].ProductCode != "SYNC-1" || sent.Items[0].Quantity != 5 {
		t.Errorf("unexpected pushed payload %+v", sent)
	}
}

func TestSyncRejected(t *testing.T) {
	db := dbtest.New(t)
	keeper := apitest.CreateUser(t, db, "keeper", models.RoleStorage, nil)
	srv, _ := erp(t, http.StatusUnauthorized, `{"message":"bad token"}`)

	app := apitest.NewApp(db)
	app.Post("/sync", jubelio.SyncHandler(client(srv.URL)))

	var res jubelio.SyncResponse
	apitest.Do(t, app, keeper, http.MethodPost, "/sync", nil).Expect(t, fiber.StatusBadGateway).Decode(t, &res)
	if res.Status != http.StatusUnauthorized || res.Reason != "bad token" {
		t.Errorf("unexpected rejected sync %+v", res)
	}
}
