package borrow

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"warehouse-backend/internal/apitest"
	"warehouse-backend/internal/database/dbtest"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/stock"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	app     *fiber.App
	dept    models.Department
	user    models.User
	manager models.User
	keeper  models.User
	stock   models.ItemStock
}

func setup(t *testing.T, units int) fixture {
	t.Helper()
	db := dbtest.New(t)

	app := apitest.NewApp(db)
	app.Get("/api/borrow-requests", ListBorrowRequestsHandler())
	app.Get("/api/borrow-requests/active", ListActiveLoansHandler())
	app.Post("/api/borrow-requests", CreateBorrowRequestHandler())
	app.Get("/api/borrow-requests/:id", GetBorrowRequestHandler())
	app.Post("/api/borrow-requests/:id/manager-approve", ManagerApproveHandler())
	app.Post("/api/borrow-requests/:id/manager-reject", ManagerRejectHandler())
	app.Post("/api/borrow-requests/:id/storage-approve", StorageApproveHandler())
	app.Post("/api/borrow-requests/:id/storage-reject", StorageRejectHandler())
	app.Post("/api/borrow-requests/:id/activate", ActivateHandler())
	app.Post("/api/borrow-requests/:id/return", ReturnHandler())
	app.Post("/api/borrow-requests/:id/revert", RevertHandler())
	app.Post("/api/borrow-requests/:id/cancel", CancelHandler())

	dept := models.Department{Name: "Events"}
	db.Create(&dept)
	loc := models.Location{Name: "Main"}
	db.Create(&loc)
	box := models.Box{Code: "A-1", LocationID: loc.ID}
	db.Create(&box)
	item := models.Item{ProductCode: "CAM-1", Name: "Camera", Unit: "pcs"}
	db.Create(&item)

	var s *models.ItemStock
	err := db.Transaction(func(tx *gorm.DB) error {
		st, err := stock.FindOrCreate(tx, item.ID, &box.ID, models.ConditionGood)
		if err != nil {
			return err
		}
		s, err = stock.Move(tx, stock.MoveInput{ItemStockID: st.ID, From: stock.Intake, To: stock.InStorage, Qty: units})
		return err
	})
	if err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	return fixture{
		db:      db,
		app:     app,
		dept:    dept,
		user:    apitest.CreateUser(t, db, "user", models.RoleUser, &dept.ID),
		manager: apitest.CreateUser(t, db, "manager", models.RoleManager, &dept.ID),
		keeper:  apitest.CreateUser(t, db, "keeper", models.RoleStorage, nil),
		stock:   *s,
	}
}

func (f fixture) create(t *testing.T, as models.User, qty int) BorrowResponse {
	t.Helper()
	var br BorrowResponse
	apitest.Do(t, f.app, as, http.MethodPost, "/api/borrow-requests", map[string]any{
		"purpose":    "Product shoot",
		"start_date": "2024-03-01",
		"due_date":   "2024-03-05",
		"items":      []map[string]any{{"item_stock_id": f.stock.ID, "quantity": qty}},
	}).Expect(t, fiber.StatusCreated).Decode(t, &br)
	return br
}

func (f fixture) post(t *testing.T, as models.User, id uint, action string, body any, status int) BorrowResponse {
	t.Helper()
	var br BorrowResponse
	resp := apitest.Do(t, f.app, as, http.MethodPost, fmt.Sprintf("/api/borrow-requests/%d/%s", id, action), body).Expect(t, status)
	if status == fiber.StatusOK {
		resp.Decode(t, &br)
	}
	return br
}

func (f fixture) counters(t *testing.T) models.ItemStock {
	t.Helper()
	var s models.ItemStock
	if err := f.db.First(&s, f.stock.ID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if err := stock.FromModel(&s).Check(); err != nil {
		t.Fatalf("stock out of balance: %v", err)
	}
	return s
}

func TestBorrowHappyPathWithSeeding(t *testing.T) {
	f := setup(t, 5)
	outsider := apitest.CreateUser(t, f.db, "outsider", models.RoleManager, nil)

	br := f.create(t, f.user, 2)
	if br.Status != models.BorrowPendingManager || br.TotalQuantity != 2 || br.DepartmentName != "Events" {
		t.Fatalf("unexpected new request %+v", br)
	}

	f.post(t, outsider, br.ID, "manager-approve", nil, fiber.StatusForbidden)
	f.post(t, f.keeper, br.ID, "storage-approve", nil, fiber.StatusConflict)

	br = f.post(t, f.manager, br.ID, "manager-approve", nil, fiber.StatusOK)
	if br.Status != models.BorrowPendingStorage || br.ManagerID == nil {
		t.Fatalf("expected pending_storage, got %+v", br)
	}

	br = f.post(t, f.keeper, br.ID, "storage-approve", nil, fiber.StatusOK)
	if s := f.counters(t); s.InStorage != 3 || s.OnBorrow != 2 {
		t.Fatalf("expected 2 units reserved, got %+v", s)
	}

	br = f.post(t, f.keeper, br.ID, "activate", nil, fiber.StatusOK)
	if br.Status != models.BorrowActive || br.ActivatedAt == nil {
		t.Fatalf("expected active loan, got %+v", br)
	}

	lineID := br.Items[0].ID
	f.post(t, f.keeper, br.ID, "return", map[string]any{
		"items": []map[string]any{{"item_id": lineID, "returned_qty": 1, "seeded_qty": 0}},
	}, fiber.StatusBadRequest)

	br = f.post(t, f.keeper, br.ID, "return", map[string]any{
		"items": []map[string]any{{"item_id": lineID, "returned_qty": 1, "seeded_qty": 1, "note": "lens lost"}},
	}, fiber.StatusOK)
	if br.Status != models.BorrowSeeded || br.ReturnedAt == nil || br.Items[0].SeededQty != 1 {
		t.Fatalf("expected seeded request, got %+v", br)
	}
	if s := f.counters(t); s.InStorage != 4 || s.OnBorrow != 0 || s.Seeded != 1 {
		t.Fatalf("unexpected counters after return %+v", s)
	}

	f.post(t, f.keeper, br.ID, "revert", nil, fiber.StatusConflict)
}

func TestManagerRequestSkipsFirstStage(t *testing.T) {
	f := setup(t, 5)
	br := f.create(t, f.manager, 1)
	if br.Status != models.BorrowPendingStorage {
		t.Fatalf("expected pending_storage for a manager's own request, got %s", br.Status)
	}
	f.post(t, f.keeper, br.ID, "storage-reject", map[string]string{}, fiber.StatusBadRequest)
	br = f.post(t, f.keeper, br.ID, "storage-reject", map[string]string{"reason": "maintenance"}, fiber.StatusOK)
	if br.Status != models.BorrowRejected || br.RejectReason != "maintenance" {
		t.Fatalf("unexpected rejected request %+v", br)
	}
}

func TestStorageApprovalIsAllOrNothing(t *testing.T) {
	f := setup(t, 4)
	first := f.create(t, f.manager, 3)
	second := f.create(t, f.manager, 3)

	f.post(t, f.keeper, first.ID, "storage-approve", nil, fiber.StatusOK)
	f.post(t, f.keeper, second.ID, "storage-approve", nil, fiber.StatusConflict)

	s := f.counters(t)
	if s.InStorage != 1 || s.OnBorrow != 3 {
		t.Fatalf("second approval must not touch counters, got %+v", s)
	}
	var got models.BorrowRequest
	f.db.First(&got, second.ID)
	if got.Status != models.BorrowPendingStorage {
		t.Fatalf("second request should stay pending, got %s", got.Status)
	}
}

func TestRevertActiveLoan(t *testing.T) {
	f := setup(t, 2)
	br := f.create(t, f.manager, 2)
	f.post(t, f.keeper, br.ID, "storage-approve", nil, fiber.StatusOK)
	f.post(t, f.keeper, br.ID, "activate", nil, fiber.StatusOK)

	br = f.post(t, f.keeper, br.ID, "revert", nil, fiber.StatusOK)
	if br.Status != models.BorrowReverted {
		t.Fatalf("expected reverted, got %s", br.Status)
	}
	if s := f.counters(t); s.InStorage != 2 || s.OnBorrow != 0 {
		t.Fatalf("expected units back in storage, got %+v", s)
	}
}

func TestReturnInOtherCondition(t *testing.T) {
	f := setup(t, 3)
	br := f.create(t, f.manager, 2)
	f.post(t, f.keeper, br.ID, "storage-approve", nil, fiber.StatusOK)
	br = f.post(t, f.keeper, br.ID, "activate", nil, fiber.StatusOK)

	br = f.post(t, f.keeper, br.ID, "return", map[string]any{
		"items": []map[string]any{{"item_id": br.Items[0].ID, "returned_qty": 2, "condition": "damaged"}},
	}, fiber.StatusOK)
	if br.Status != models.BorrowComplete {
		t.Fatalf("expected complete, got %s", br.Status)
	}
	if s := f.counters(t); s.InStorage != 1 || s.Removed != 2 {
		t.Fatalf("expected 2 units moved out of the good stock, got %+v", s)
	}

	var damaged models.ItemStock
	if err := f.db.Where("item_id = ? AND condition = ?", f.stock.ItemID, models.ConditionDamaged).First(&damaged).Error; err != nil {
		t.Fatalf("expected damaged stock row: %v", err)
	}
	if damaged.InStorage != 2 {
		t.Errorf("expected 2 damaged units in storage, got %d", damaged.InStorage)
	}
}

func TestCancelAndVisibility(t *testing.T) {
	f := setup(t, 5)
	other := apitest.CreateUser(t, f.db, "other", models.RoleUser, nil)
	br := f.create(t, f.user, 1)

	apitest.Do(t, f.app, other, http.MethodGet, fmt.Sprintf("/api/borrow-requests/%d", br.ID), nil).Expect(t, fiber.StatusForbidden)
	apitest.Do(t, f.app, f.manager, http.MethodGet, fmt.Sprintf("/api/borrow-requests/%d", br.ID), nil).Expect(t, fiber.StatusOK)

	var mine []BorrowResponse
	apitest.Do(t, f.app, other, http.MethodGet, "/api/borrow-requests", nil).Decode(t, &mine)
	if len(mine) != 0 {
		t.Fatalf("expected no visible requests for another user, got %d", len(mine))
	}

	f.post(t, other, br.ID, "cancel", nil, fiber.StatusForbidden)
	br = f.post(t, f.user, br.ID, "cancel", nil, fiber.StatusOK)
	if br.Status != models.BorrowCancelled {
		t.Fatalf("expected cancelled, got %s", br.Status)
	}
	f.post(t, f.user, br.ID, "cancel", nil, fiber.StatusConflict)
}

func TestCreateValidation(t *testing.T) {
	f := setup(t, 2)
	testCases := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"due before start", map[string]any{"purpose": "x", "start_date": "2024-03-05", "due_date": "2024-03-01",
			"items": []map[string]any{{"item_stock_id": f.stock.ID, "quantity": 1}}}, fiber.StatusBadRequest},
		{"bad date", map[string]any{"purpose": "x", "start_date": "05/03/2024", "due_date": "2024-03-06",
			"items": []map[string]any{{"item_stock_id": f.stock.ID, "quantity": 1}}}, fiber.StatusBadRequest},
		{"no items", map[string]any{"purpose": "x", "start_date": "2024-03-01", "due_date": "2024-03-02"}, fiber.StatusBadRequest},
		{"over availability after merge", map[string]any{"purpose": "x", "start_date": "2024-03-01", "due_date": "2024-03-02",
			"items": []map[string]any{{"item_stock_id": f.stock.ID, "quantity": 1}, {"item_stock_id": f.stock.ID, "quantity": 2}}}, fiber.StatusConflict},
		{"unknown stock", map[string]any{"purpose": "x", "start_date": "2024-03-01", "due_date": "2024-03-02",
			"items": []map[string]any{{"item_stock_id": 999, "quantity": 1}}}, fiber.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			apitest.Do(t, f.app, f.user, http.MethodPost, "/api/borrow-requests", tc.body).Expect(t, tc.status)
		})
	}
}

func TestFlagOverdue(t *testing.T) {
	f := setup(t, 3)
	br := f.create(t, f.manager, 1)
	f.post(t, f.keeper, br.ID, "storage-approve", nil, fiber.StatusOK)
	f.post(t, f.keeper, br.ID, "activate", nil, fiber.StatusOK)

	onDueDate := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	n, err := FlagOverdue(f.db, onDueDate)
	if err != nil || n != 0 {
		t.Fatalf("nothing is overdue on the due date, flagged %d (%v)", n, err)
	}

	n, err = FlagOverdue(f.db, onDueDate.AddDate(0, 0, 1))
	if err != nil || n != 1 {
		t.Fatalf("expected one overdue loan, flagged %d (%v)", n, err)
	}
	n, _ = FlagOverdue(f.db, onDueDate.AddDate(0, 0, 2))
	if n != 0 {
		t.Errorf("already flagged loans must not be counted again, got %d", n)
	}

	var active []BorrowResponse
	apitest.Do(t, f.app, f.keeper, http.MethodGet, "/api/borrow-requests/active?overdue=true", nil).
		Expect(t, fiber.StatusOK).Decode(t, &active)
	if len(active) != 1 || !active[0].IsOverdue {
		t.Fatalf("expected the overdue loan listed, got %+v", active)
	}
}
