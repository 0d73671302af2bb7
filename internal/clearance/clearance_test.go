package clearance_test

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"warehouse-backend/internal/apitest"
	"warehouse-backend/internal/clearance"
	"warehouse-backend/internal/database/dbtest"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/spreadsheet"
	"warehouse-backend/internal/stock"

	"github.com/gofiber/fiber/v2"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

func newApp(db *gorm.DB) *fiber.App {
	app := apitest.NewApp(db)
	app.Post("/api/clearance/items", clearance.CreateItemClearanceHandler())
	app.Get("/api/clearance/items", clearance.ListItemClearancesHandler())
	app.Get("/api/clearance/items/:id", clearance.GetItemClearanceHandler())
	app.Post("/api/clearance/items/:id/approve", clearance.ApproveItemClearanceHandler())
	app.Post("/api/clearance/items/:id/reject", clearance.RejectItemClearanceHandler())

	app.Get("/api/clearance/template", clearance.TemplateHandler())
	app.Get("/api/clearance/history", clearance.HistoryHandler())
	app.Get("/api/clearance/history/export", clearance.ExportHistoryHandler())
	app.Post("/api/clearance/forms", clearance.CreateFormHandler())
	app.Get("/api/clearance/forms", clearance.ListFormsHandler())
	app.Get("/api/clearance/forms/:id", clearance.GetFormHandler())
	app.Put("/api/clearance/forms/:id", clearance.UpdateFormHandler())
	app.Delete("/api/clearance/forms/:id", clearance.DeleteFormHandler())
	app.Post("/api/clearance/forms/:id/submit", clearance.SubmitFormHandler())
	app.Post("/api/clearance/forms/:id/approve", clearance.ApproveFormHandler())
	app.Post("/api/clearance/forms/:id/reject", clearance.RejectFormHandler())
	app.Post("/api/clearance/forms/:id/reopen", clearance.ReopenFormHandler())
	app.Post("/api/clearance/forms/:id/process", clearance.ProcessFormHandler())
	app.Post("/api/clearance/forms/:id/import", clearance.ImportFormHandler())
	return app
}

type fixture struct {
	db     *gorm.DB
	app    *fiber.App
	keeper models.User
	admin  models.User
	stock  models.ItemStock
}

// setup stores 5 good cameras in box A-1, inClearance of them already in clearance.
func setup(t *testing.T, inClearance int) fixture {
	t.Helper()
	db := dbtest.New(t)
	loc := models.Location{Name: "Main"}
	db.Create(&loc)
	box := models.Box{Code: "A-1", LocationID: loc.ID}
	db.Create(&box)
	item := models.Item{ProductCode: "CAM-1", Name: "Camera", Category: "av", Unit: "pcs"}
	db.Create(&item)

	var s *models.ItemStock
	err := db.Transaction(func(tx *gorm.DB) error {
		st, err := stock.FindOrCreate(tx, item.ID, &box.ID, models.ConditionGood)
		if err != nil {
			return err
		}
		s, err = stock.Move(tx, stock.MoveInput{ItemStockID: st.ID, From: stock.Intake, To: stock.InStorage, Qty: 5})
		if err != nil || inClearance == 0 {
			return err
		}
		s, err = stock.Move(tx, stock.MoveInput{ItemStockID: st.ID, From: stock.InStorage, To: stock.InClearance, Qty: inClearance})
		return err
	})
	if err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return fixture{
		db:     db,
		app:    newApp(db),
		keeper: apitest.CreateUser(t, db, "keeper", models.RoleStorage, nil),
		admin:  apitest.CreateUser(t, db, "admin", models.RoleAdmin, nil),
		stock:  *s,
	}
}

func (f fixture) counters(t *testing.T) models.ItemStock {
	t.Helper()
	var s models.ItemStock
	f.db.First(&s, f.stock.ID)
	if err := stock.FromModel(&s).Check(); err != nil {
		t.Fatalf("stock out of balance: %v", err)
	}
	return s
}

func (f fixture) createForm(t *testing.T, qty int) clearance.FormResponse {
	t.Helper()
	var form clearance.FormResponse
	apitest.Do(t, f.app, f.keeper, http.MethodPost, "/api/clearance/forms", map[string]any{
		"title": "Q1 write-off",
		"items": []map[string]any{{"item_stock_id": f.stock.ID, "quantity": qty, "note": "broken"}},
	}).Expect(t, fiber.StatusCreated).Decode(t, &form)
	return form
}

func (f fixture) formAction(t *testing.T, as models.User, id uint, action string, body any, status int) clearance.FormResponse {
	t.Helper()
	var form clearance.FormResponse
	resp := apitest.Do(t, f.app, as, http.MethodPost, fmt.Sprintf("/api/clearance/forms/%d/%s", id, action), body).Expect(t, status)
	if status == fiber.StatusOK {
		resp.Decode(t, &form)
	}
	return form
}

func TestItemClearance(t *testing.T) {
	f := setup(t, 0)

	body := func(qty int, source string) map[string]any {
		return map[string]any{"item_stock_id": f.stock.ID, "quantity": qty, "source": source, "reason": "obsolete"}
	}
	apitest.Do(t, f.app, f.keeper, http.MethodPost, "/api/clearance/items", body(6, "")).Expect(t, fiber.StatusConflict)
	apitest.Do(t, f.app, f.keeper, http.MethodPost, "/api/clearance/items", body(1, "on_borrow")).Expect(t, fiber.StatusBadRequest)

	var ic clearance.ItemClearanceResponse
	apitest.Do(t, f.app, f.keeper, http.MethodPost, "/api/clearance/items", body(3, "")).
		Expect(t, fiber.StatusCreated).Decode(t, &ic)
	if ic.Status != models.RequestPending || ic.Source != "in_storage" || ic.ProductCode != "CAM-1" {
		t.Fatalf("unexpected clearance request %+v", ic)
	}
	if s := f.counters(t); s.InClearance != 0 {
		t.Fatalf("nothing moves before approval, got %+v", s)
	}

	path := fmt.Sprintf("/api/clearance/items/%d", ic.ID)
	apitest.Do(t, f.app, f.admin, http.MethodPost, path+"/approve", nil).Expect(t, fiber.StatusOK).Decode(t, &ic)
	if ic.Status != models.RequestApproved || ic.ReviewedBy == nil {
		t.Fatalf("unexpected approved request %+v", ic)
	}
	if s := f.counters(t); s.InStorage != 2 || s.InClearance != 3 {
		t.Fatalf("expected 3 units in clearance, got %+v", s)
	}
	apitest.Do(t, f.app, f.admin, http.MethodPost, path+"/approve", nil).Expect(t, fiber.StatusConflict)

	var other clearance.ItemClearanceResponse
	apitest.Do(t, f.app, f.keeper, http.MethodPost, "/api/clearance/items", body(1, "")).Decode(t, &other)
	rejectPath := fmt.Sprintf("/api/clearance/items/%d/reject", other.ID)
	apitest.Do(t, f.app, f.admin, http.MethodPost, rejectPath, map[string]string{}).Expect(t, fiber.StatusBadRequest)
	apitest.Do(t, f.app, f.admin, http.MethodPost, rejectPath, map[string]string{"reason": "still usable"}).Expect(t, fiber.StatusOK)
	if s := f.counters(t); s.InStorage != 2 {
		t.Fatalf("rejection must not move units, got %+v", s)
	}

	var pending []clearance.ItemClearanceResponse
	apitest.Do(t, f.app, f.admin, http.MethodGet, "/api/clearance/items?status=pending", nil).Decode(t, &pending)
	if len(pending) != 0 {
		t.Errorf("expected no pending requests, got %d", len(pending))
	}
}

func TestFormLifecycle(t *testing.T) {
	f := setup(t, 3)

	form := f.createForm(t, 2)
	if form.Status != models.FormDraft || !strings.HasPrefix(form.FormNumber, "CLR-") || form.TotalQuantity != 2 {
		t.Fatalf("unexpected draft %+v", form)
	}
	if form.Items[0].BoxCode != "A-1" || form.Items[0].InClearance != 3 {
		t.Fatalf("unexpected line %+v", form.Items[0])
	}

	apitest.Do(t, f.app, f.keeper, http.MethodPut, fmt.Sprintf("/api/clearance/forms/%d", form.ID), map[string]any{
		"title": "Q1 write-off (final)",
		"items": []map[string]any{{"item_stock_id": f.stock.ID, "quantity": 1}, {"item_stock_id": f.stock.ID, "quantity": 1}},
	}).Expect(t, fiber.StatusOK).Decode(t, &form)
	if form.Title != "Q1 write-off (final)" || len(form.Items) != 2 {
		t.Fatalf("unexpected updated draft %+v", form)
	}

	f.formAction(t, f.admin, form.ID, "approve", nil, fiber.StatusConflict)
	form = f.formAction(t, f.keeper, form.ID, "submit", nil, fiber.StatusOK)
	if form.Status != models.FormPending {
		t.Fatalf("expected pending, got %s", form.Status)
	}
	apitest.Do(t, f.app, f.keeper, http.MethodPut, fmt.Sprintf("/api/clearance/forms/%d", form.ID), map[string]any{"title": "late edit"}).
		Expect(t, fiber.StatusConflict)
	apitest.Do(t, f.app, f.keeper, http.MethodDelete, fmt.Sprintf("/api/clearance/forms/%d", form.ID), nil).
		Expect(t, fiber.StatusConflict)

	form = f.formAction(t, f.admin, form.ID, "approve", nil, fiber.StatusOK)
	if form.Status != models.FormApproved || form.ApprovedBy == nil {
		t.Fatalf("unexpected approved form %+v", form)
	}

	form = f.formAction(t, f.keeper, form.ID, "process", nil, fiber.StatusOK)
	if form.Status != models.FormProcessed || form.ProcessedAt == nil {
		t.Fatalf("unexpected processed form %+v", form)
	}
	if s := f.counters(t); s.InClearance != 1 || s.Removed != 2 || s.InStorage != 2 {
		t.Fatalf("expected 2 units removed, got %+v", s)
	}
	f.formAction(t, f.keeper, form.ID, "process", nil, fiber.StatusConflict)

	// The snapshot survives the item being renamed.
	f.db.Model(&models.Item{}).Where("product_code = ?", "CAM-1").Update("name", "Renamed")

	var hist clearance.HistoryResponse
	apitest.Do(t, f.app, f.admin, http.MethodGet, "/api/clearance/history?q=camera&form_number="+strings.ToLower(form.FormNumber), nil).
		Expect(t, fiber.StatusOK).Decode(t, &hist)
	if len(hist.Items) != 2 || hist.TotalQuantity != 2 || hist.Items[0].LocationName != "Main" {
		t.Fatalf("unexpected history %+v", hist)
	}

	apitest.Do(t, f.app, f.admin, http.MethodGet, "/api/clearance/history?from=2000-01-02&to=2000-01-01", nil).
		Expect(t, fiber.StatusBadRequest)
	apitest.Do(t, f.app, f.admin, http.MethodGet, "/api/clearance/history?to=2000-01-01", nil).Decode(t, &hist)
	if len(hist.Items) != 0 {
		t.Errorf("expected no rows cleared before 2000, got %d", len(hist.Items))
	}

	resp := apitest.Do(t, f.app, f.admin, http.MethodGet, "/api/clearance/history/export", nil).Expect(t, fiber.StatusOK)
	wb, err := excelize.OpenReader(bytes.NewReader(resp.Body))
	if err != nil {
		t.Fatalf("export is not a workbook: %v", err)
	}
	defer wb.Close()
	if rows, _ := wb.GetRows("Cleared"); len(rows) != 3 {
		t.Errorf("expected header and 2 rows, got %d", len(rows))
	}
}

func TestFormNeedsUnitsInClearance(t *testing.T) {
	f := setup(t, 2)

	form := f.createForm(t, 3)
	f.formAction(t, f.keeper, form.ID, "submit", nil, fiber.StatusConflict)

	empty := clearance.FormResponse{}
	apitest.Do(t, f.app, f.keeper, http.MethodPost, "/api/clearance/forms", map[string]any{"title": "empty"}).
		Expect(t, fiber.StatusCreated).Decode(t, &empty)
	f.formAction(t, f.keeper, empty.ID, "submit", nil, fiber.StatusBadRequest)
	apitest.Do(t, f.app, f.keeper, http.MethodDelete, fmt.Sprintf("/api/clearance/forms/%d", empty.ID), nil).
		Expect(t, fiber.StatusNoContent)
	apitest.Do(t, f.app, f.keeper, http.MethodGet, fmt.Sprintf("/api/clearance/forms/%d", empty.ID), nil).
		Expect(t, fiber.StatusNotFound)
}

func TestFormRejectAndReopen(t *testing.T) {
	f := setup(t, 2)
	form := f.createForm(t, 1)
	f.formAction(t, f.keeper, form.ID, "submit", nil, fiber.StatusOK)

	f.formAction(t, f.admin, form.ID, "reject", map[string]string{}, fiber.StatusBadRequest)
	form = f.formAction(t, f.admin, form.ID, "reject", map[string]string{"reason": "wrong box"}, fiber.StatusOK)
	if form.Status != models.FormRejected || form.RejectReason != "wrong box" {
		t.Fatalf("unexpected rejected form %+v", form)
	}

	form = f.formAction(t, f.keeper, form.ID, "reopen", nil, fiber.StatusOK)
	if form.Status != models.FormDraft {
		t.Fatalf("expected draft, got %s", form.Status)
	}
	form = f.formAction(t, f.keeper, form.ID, "submit", nil, fiber.StatusOK)
	if form.RejectReason != "" {
		t.Errorf("resubmitting should clear the reject reason, got %q", form.RejectReason)
	}
}

func upload(t *testing.T, path string, rows [][]any) *http.Request {
	t.Helper()
	wb, err := spreadsheet.Build(spreadsheet.Sheet{
		Name:   "Clearance",
		Header: []any{"product_code", "box_code", "condition", "quantity", "note"},
		Rows:   rows,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	content := &bytes.Buffer{}
	wb.Write(content)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "clearance.xlsx")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write(content.Bytes())
	w.Close()
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestImportAndTemplate(t *testing.T) {
	f := setup(t, 2)
	var form clearance.FormResponse
	apitest.Do(t, f.app, f.keeper, http.MethodPost, "/api/clearance/forms", map[string]any{"title": "import"}).Decode(t, &form)
	path := fmt.Sprintf("/api/clearance/forms/%d/import", form.ID)

	var bad clearance.ImportErrorResponse
	apitest.DoRaw(t, f.app, f.keeper, upload(t, path, [][]any{
		{"cam-1", "a-1", "good", 2, "ok"},
		{"CAM-1", "A-1", "damaged", 1, ""},
		{"CAM-1", "A-1", "", "two", ""},
	})).Expect(t, fiber.StatusBadRequest).Decode(t, &bad)
	if len(bad.Rows) != 2 || bad.Rows[0].Row != 3 || bad.Rows[1].Row != 4 {
		t.Fatalf("unexpected row errors %+v", bad.Rows)
	}

	var ok clearance.ImportResponse
	apitest.DoRaw(t, f.app, f.keeper, upload(t, path, [][]any{{"cam-1", "a-1", "good", 2, "ok"}})).
		Expect(t, fiber.StatusOK).Decode(t, &ok)
	if ok.Imported != 1 || len(ok.Form.Items) != 1 || ok.Form.Items[0].Quantity != 2 {
		t.Fatalf("unexpected import result %+v", ok)
	}

	resp := apitest.Do(t, f.app, f.keeper, http.MethodGet, "/api/clearance/template", nil).Expect(t, fiber.StatusOK)
	wb, err := excelize.OpenReader(bytes.NewReader(resp.Body))
	if err != nil {
		t.Fatalf("template is not a workbook: %v", err)
	}
	defer wb.Close()
	rows, _ := wb.GetRows("Clearance")
	if len(rows) < 1 || rows[0][0] != "product_code" || rows[0][3] != "quantity" {
		t.Fatalf("unexpected template header %v", rows)
	}
}
