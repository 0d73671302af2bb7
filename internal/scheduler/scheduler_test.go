package scheduler

import (
	"errors"
	"testing"
	"time"

	"warehouse-backend/internal/config"
	"warehouse-backend/internal/database/dbtest"
	"warehouse-backend/internal/jubelio"
	"warehouse-backend/internal/models"

	"go.uber.org/zap/zaptest"
)

func TestStartRejectsBadSchedules(t *testing.T) {
	db := dbtest.New(t)
	log := zaptest.NewLogger(t)

	s := New(&config.Config{OverdueCheckCron: "every morning"}, db, nil, log)
	if err := s.Start(); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}

	s = New(&config.Config{Jubelio: config.JubelioConfig{SyncCron: "*/5 * * * *"}}, db, nil, log)
	if err := s.Start(); !errors.Is(err, jubelio.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestStartAndStop(t *testing.T) {
	db := dbtest.New(t)
	s := New(&config.Config{OverdueCheckCron: "0 7 * * *"}, db, nil, zaptest.NewLogger(t))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := len(s.cron.Entries()); n != 1 {
		t.Errorf("expected 1 job, got %d", n)
	}
	s.Stop()
}

func TestFlagOverdueJob(t *testing.T) {
	db := dbtest.New(t)
	u := models.User{Name: "u", Email: "u@example.com", PasswordHash: "x", Role: models.RoleUser}
	db.Create(&u)
	br := models.BorrowRequest{
		Code: "BR-1", RequesterID: u.ID, Purpose: "event", Status: models.BorrowActive,
		StartDate: time.Now().AddDate(0, 0, -10), DueDate: time.Now().AddDate(0, 0, -3),
	}
	db.Create(&br)

	New(&config.Config{}, db, nil, zaptest.NewLogger(t)).flagOverdue()

	var got models.BorrowRequest
	db.First(&got, br.ID)
	if !got.IsOverdue {
		t.Error("expected the loan to be flagged overdue")
	}
}
