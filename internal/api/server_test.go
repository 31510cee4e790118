package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ludoarena/battle-coordinator/internal/battle"
	"github.com/ludoarena/battle-coordinator/internal/ledger"
	"github.com/ludoarena/battle-coordinator/pkg/battledto"
)

const testAdminToken = "test-admin-token"

func newTestApp(t *testing.T) (*fiber.App, *ledger.Memory) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	wallet := ledger.NewMemory()
	wallet.Deposit("A", 1000)
	wallet.Deposit("B", 1000)
	tariff, err := battle.LoadTariff("")
	if err != nil {
		t.Fatalf("LoadTariff: %v", err)
	}
	engine := battle.NewEngine(battle.NewStore(rdb), wallet, tariff, nil)
	return NewServer(engine, nil, testAdminToken).App(), wallet
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	_ = resp.Body.Close()
	return resp, raw
}

func decodeBattle(t *testing.T, raw []byte) *battle.Battle {
	t.Helper()
	var b battle.Battle
	if err := json.Unmarshal(raw, &b); err != nil {
		t.Fatalf("decode battle: %v (%s)", err, raw)
	}
	return &b
}

func createBattle(t *testing.T, app *fiber.App) *battle.Battle {
	t.Helper()
	resp, raw := doJSON(t, app, fiber.MethodPost, "/battles", battledto.CreateBattleRequest{
		CreatorID: "A", CreatorName: "Alice", Amount: 100,
	}, nil)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create: status %d body %s", resp.StatusCode, raw)
	}
	return decodeBattle(t, raw)
}

func TestCreateBattleValidation(t *testing.T) {
	app, _ := newTestApp(t)
	resp, raw := doJSON(t, app, fiber.MethodPost, "/battles", battledto.CreateBattleRequest{
		CreatorID: "A", Amount: 0,
	}, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status %d body %s", resp.StatusCode, raw)
	}
	var de battledto.DomainError
	if err := json.Unmarshal(raw, &de); err != nil || de.Code != battledto.CodeBadRequest {
		t.Fatalf("unexpected error body: %s", raw)
	}
}

func TestBattleLifecycleOverHTTP(t *testing.T) {
	app, wallet := newTestApp(t)
	b := createBattle(t, app)

	resp, raw := doJSON(t, app, fiber.MethodGet, "/battles/open", nil, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("list open: %d", resp.StatusCode)
	}
	var open []battle.Battle
	if err := json.Unmarshal(raw, &open); err != nil || len(open) != 1 {
		t.Fatalf("expected one open battle: %s", raw)
	}

	resp, raw = doJSON(t, app, fiber.MethodPost, "/battles/"+b.ID+"/join", battledto.JoinRequest{
		PlayerID: "B", PlayerName: "Bob", ExpectedVersion: b.Version,
	}, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("join: %d body %s", resp.StatusCode, raw)
	}
	b = decodeBattle(t, raw)

	resp, raw = doJSON(t, app, fiber.MethodGet, "/battles/user/B", nil, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("list by user: %d", resp.StatusCode)
	}
	var mine []battle.Battle
	if err := json.Unmarshal(raw, &mine); err != nil || len(mine) != 1 || mine[0].ID != b.ID {
		t.Fatalf("expected the joined battle for B: %s", raw)
	}

	resp, raw = doJSON(t, app, fiber.MethodPost, "/battles/"+b.ID+"/room-code", battledto.RoomCodeRequest{
		CallerID: "A", RoomCode: "1234", ExpectedVersion: b.Version,
	}, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("room code: %d body %s", resp.StatusCode, raw)
	}
	b = decodeBattle(t, raw)

	for _, player := range []string{"A", "B"} {
		resp, raw = doJSON(t, app, fiber.MethodPost, "/battles/"+b.ID+"/ready", battledto.ReadyRequest{
			CallerID: player, ExpectedVersion: b.Version,
		}, nil)
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("ready %s: %d body %s", player, resp.StatusCode, raw)
		}
		b = decodeBattle(t, raw)
	}
	if b.Status != battle.StatusInProgress {
		t.Fatalf("expected inprogress, got %s", b.Status)
	}

	resp, raw = doJSON(t, app, fiber.MethodPost, "/battles/"+b.ID+"/result", battledto.ResultRequest{
		CallerID: "A", Outcome: "won", ProofRef: "p1", ExpectedVersion: b.Version,
	}, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("result A: %d body %s", resp.StatusCode, raw)
	}
	b = decodeBattle(t, raw)

	resp, raw = doJSON(t, app, fiber.MethodPost, "/battles/"+b.ID+"/result", battledto.ResultRequest{
		CallerID: "B", Outcome: "lost", ExpectedVersion: b.Version,
	}, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("result B: %d body %s", resp.StatusCode, raw)
	}
	b = decodeBattle(t, raw)
	if b.Status != battle.StatusCompleted || b.Resolution.WinnerID != "A" {
		t.Fatalf("unexpected terminal state: %s %+v", b.Status, b.Resolution)
	}
	if got := wallet.Balance("A"); got != 900+190 {
		t.Fatalf("winner payout over HTTP: want 1090 got %d", got)
	}
}

func TestErrorModelOverTheWire(t *testing.T) {
	app, _ := newTestApp(t)
	b := createBattle(t, app)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
		retry  bool
	}{
		{"unknown battle", fiber.MethodGet, "/battles/missing", nil,
			fiber.StatusNotFound, battledto.CodeNotFound, false},
		{"stale version", fiber.MethodPost, "/battles/" + b.ID + "/join",
			battledto.JoinRequest{PlayerID: "B", ExpectedVersion: 42},
			fiber.StatusConflict, battledto.CodeStaleState, true},
		{"self join", fiber.MethodPost, "/battles/" + b.ID + "/join",
			battledto.JoinRequest{PlayerID: "A", ExpectedVersion: b.Version},
			fiber.StatusConflict, battledto.CodeInvalidState, false},
		{"stranger cancel", fiber.MethodPost, "/battles/" + b.ID + "/cancel",
			battledto.CancelRequest{CallerID: "X", ExpectedVersion: b.Version},
			fiber.StatusForbidden, battledto.CodeUnknownPlayer, false},
		{"bad outcome", fiber.MethodPost, "/battles/" + b.ID + "/result",
			battledto.ResultRequest{CallerID: "A", Outcome: "draw", ExpectedVersion: b.Version},
			fiber.StatusBadRequest, battledto.CodeBadRequest, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := doJSON(t, app, tc.method, tc.path, tc.body, nil)
			if resp.StatusCode != tc.status {
				t.Fatalf("status: want %d got %d body %s", tc.status, resp.StatusCode, raw)
			}
			var de battledto.DomainError
			if err := json.Unmarshal(raw, &de); err != nil {
				t.Fatalf("decode error body: %v (%s)", err, raw)
			}
			if de.Code != tc.code || de.Retryable != tc.retry {
				t.Fatalf("error model: want %s/%v got %s/%v", tc.code, tc.retry, de.Code, de.Retryable)
			}
		})
	}
}

func TestLedgerFailureIsBadGateway(t *testing.T) {
	app, _ := newTestApp(t)
	b := createBattle(t, app)

	// joiner with no funds
	resp, raw := doJSON(t, app, fiber.MethodPost, "/battles/"+b.ID+"/join", battledto.JoinRequest{
		PlayerID: "broke", ExpectedVersion: b.Version,
	}, nil)
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("status: want 502 got %d body %s", resp.StatusCode, raw)
	}
	var de battledto.DomainError
	if err := json.Unmarshal(raw, &de); err != nil || de.Code != battledto.CodeLedgerFailure || !de.Retryable {
		t.Fatalf("unexpected error body: %s", raw)
	}
}

func TestAdminOverrideRequiresToken(t *testing.T) {
	app, _ := newTestApp(t)
	b := createBattle(t, app)

	path := fmt.Sprintf("/admin/battles/%s/override", b.ID)
	body := battledto.OverrideRequest{WinnerID: "A", ExpectedVersion: b.Version}

	resp, _ := doJSON(t, app, fiber.MethodPost, path, body, nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("missing token: want 401 got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, app, fiber.MethodPost, path, body, map[string]string{"X-Admin-Token": "wrong"})
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("wrong token: want 401 got %d", resp.StatusCode)
	}
	// correct token reaches the engine, which rejects the non-disputed battle
	resp, raw := doJSON(t, app, fiber.MethodPost, path, body, map[string]string{"X-Admin-Token": testAdminToken})
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("authorized override: want 409 got %d body %s", resp.StatusCode, raw)
	}
}

func TestPresignUnconfigured(t *testing.T) {
	app, _ := newTestApp(t)
	resp, _ := doJSON(t, app, fiber.MethodPost, "/proofs/presign", battledto.PresignRequest{
		BattleID: "b", PlayerID: "A",
	}, nil)
	if resp.StatusCode != fiber.StatusNotImplemented {
		t.Fatalf("want 501 got %d", resp.StatusCode)
	}
}
