package dashboard

import (
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/flywheel-launcher/profile"
)

func newChooser(t *testing.T) *Chooser {
	t.Helper()
	reg, err := profile.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}
	return NewChooser(reg)
}

func TestTableDefaultsAndCopies(t *testing.T) {
	tbl := NewTable()
	if got := tbl.GetNumber("missing", 1.5); got != 1.5 {
		t.Fatalf("GetNumber default = %v, want 1.5", got)
	}
	tbl.PutNumber("a", 2)
	tbl.PutString("b", "x")
	tbl.PutBoolean("c", true)
	if tbl.GetNumber("a", 0) != 2 || tbl.GetString("b", "") != "x" || !tbl.GetBoolean("c", false) {
		t.Fatalf("stored values not returned")
	}
	if tbl.Version() != 3 {
		t.Fatalf("Version() = %d, want 3", tbl.Version())
	}

	snap := tbl.Snapshot()
	snap.Numbers["a"] = 99
	if tbl.GetNumber("a", 0) != 2 {
		t.Fatalf("snapshot aliases the table")
	}
	if got := strings.Join(snap.Keys(), ","); got != "a,b,c" {
		t.Fatalf("Keys() = %s", got)
	}
}

func TestSnapshotStructDropsNonFinite(t *testing.T) {
	tbl := NewTable()
	tbl.PutNumber("ok", 1)
	tbl.PutNumber("nan", math.NaN())
	tbl.PutNumber("inf", math.Inf(1))

	st, err := tbl.Snapshot().Struct()
	if err != nil {
		t.Fatalf("Struct: %v", err)
	}
	nums := st.Fields["numbers"].GetStructValue().GetFields()
	if len(nums) != 1 || nums["ok"].GetNumberValue() != 1 {
		t.Fatalf("numbers = %v, want only ok", nums)
	}
}

func TestChooser(t *testing.T) {
	c := newChooser(t)
	if name, ok := c.Selected(); !ok || name != profile.DefaultProfileName {
		t.Fatalf("Selected() = %q, %v; want default", name, ok)
	}
	if err := c.Select("FLAT_LONG"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if name, _ := c.Selected(); name != "FLAT_LONG" {
		t.Fatalf("Selected() = %q, want FLAT_LONG", name)
	}
	if err := c.Select("NOPE"); !errors.Is(err, profile.ErrProfileNotFound) {
		t.Fatalf("Select(NOPE) error = %v, want ErrProfileNotFound", err)
	}
	if name, _ := c.Selected(); name != "FLAT_LONG" {
		t.Fatalf("rejected selection changed the choice to %q", name)
	}
	if len(c.Options()) != 4 {
		t.Fatalf("Options() = %d entries, want 4", len(c.Options()))
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	tbl := NewTable()
	tbl.PutNumber("Shooter/Target RPM", 3000)
	tbl.PutString("Shooter/Active Profile", "BALANCED")
	tbl.PutBoolean("Shooter/At Target", true)

	mux := http.NewServeMux()
	NewServer(tbl, newChooser(t), nil).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/dashboard")
	if err != nil {
		t.Fatalf("GET /dashboard: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)

	var st structpb.Struct
	if err := protojson.Unmarshal(body, &st); err != nil {
		t.Fatalf("protojson.Unmarshal: %v\n%s", err, body)
	}
	f := st.GetFields()
	if got := f["numbers"].GetStructValue().GetFields()["Shooter/Target RPM"].GetNumberValue(); got != 3000 {
		t.Fatalf("target rpm = %v, want 3000", got)
	}
	if got := f["strings"].GetStructValue().GetFields()["Shooter/Active Profile"].GetStringValue(); got != "BALANCED" {
		t.Fatalf("active profile = %q", got)
	}
	if !f["booleans"].GetStructValue().GetFields()["Shooter/At Target"].GetBoolValue() {
		t.Fatalf("at target flag missing")
	}
	prof := f["profile"].GetStructValue().GetFields()
	if prof["selected"].GetStringValue() != profile.DefaultProfileName {
		t.Fatalf("profile.selected = %v", prof["selected"])
	}
	if n := len(prof["options"].GetListValue().GetValues()); n != 4 {
		t.Fatalf("profile.options = %d entries, want 4", n)
	}

	post, err := http.Post(srv.URL+"/dashboard", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d, want 405", post.StatusCode)
	}
}

func TestSocketPushesAndAppliesRequests(t *testing.T) {
	tbl := NewTable()
	tbl.PutNumber("Shooter/Spinup Wait (s)", 0.75)
	chooser := newChooser(t)
	s := NewServer(tbl, chooser, nil)
	s.SetPushInterval(10 * time.Millisecond)

	mux := http.NewServeMux()
	s.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/dashboard/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, first, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read first snapshot: %v", err)
	}
	var st structpb.Struct
	if err := protojson.Unmarshal(first, &st); err != nil {
		t.Fatalf("first message is not a snapshot: %v", err)
	}

	wait := 0.3
	if err := ws.WriteJSON(Message{Op: "put", Key: "Shooter/Spinup Wait (s)", Value: &wait}); err != nil {
		t.Fatalf("WriteJSON put: %v", err)
	}
	if err := ws.WriteJSON(Message{Op: "select", Profile: "STEEP_CLOSE"}); err != nil {
		t.Fatalf("WriteJSON select: %v", err)
	}
	if err := ws.WriteJSON(Message{Op: "select", Profile: "NOPE"}); err != nil {
		t.Fatalf("WriteJSON bad select: %v", err)
	}

	gotError := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if strings.Contains(string(msg), `"error"`) {
			gotError = true
		}
		name, _ := chooser.Selected()
		if gotError && name == "STEEP_CLOSE" && tbl.GetNumber("Shooter/Spinup Wait (s)", 0) == wait {
			return
		}
	}
	t.Fatalf("requests not applied: wait=%v error=%v", tbl.GetNumber("Shooter/Spinup Wait (s)", 0), gotError)
}

func TestApplyRejectsMalformed(t *testing.T) {
	s := NewServer(NewTable(), nil, nil)
	tests := []Message{
		{Op: "put"},
		{Op: "put", Key: "k"},
		{Op: "select", Profile: "BALANCED"},
		{Op: "explode"},
	}
	for _, m := range tests {
		if err := s.Apply(m); err == nil {
			t.Fatalf("Apply(%+v) succeeded, want error", m)
		}
	}
	text := "hi"
	if err := s.Apply(Message{Op: "put", Key: "k", Text: &text}); err != nil {
		t.Fatalf("Apply put text: %v", err)
	}
}
