package application

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"agentdeck/internal/global"
	"agentdeck/internal/launch"
	"agentdeck/internal/protocol"

	"github.com/coder/websocket"
)

func waitHTTPReady(t *testing.T, url string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server not ready: %s", url)
}

func TestStartApplication_RunsAgentUnderPTYAndRecordsRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pty is unix only")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	cfgDir := t.TempDir()
	install := t.TempDir()
	c := launch.DefaultContract()
	c.InstallDir = install
	c.Profiles = []launch.Profile{{Name: "echo", Command: "sh", Args: []string{"-c", `echo "ready:$MODEL_NAME"`}}}
	if err := global.NewContractStore(cfgDir).Save(c); err != nil {
		t.Fatalf("save contract failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, err := StartApplication(ctx, StartOptions{
		ConfigDir: cfgDir,
		DBDSN:     fmt.Sprintf("file:startapp_it_%d?mode=memory&cache=shared", time.Now().UnixNano()),
		LocalHost: "127.0.0.1",
		LocalPort: pickFreePort(t),
		WebUI:     WebUIOptions{Mode: "dev", DevProxyURL: "http://127.0.0.1:15173"},
	})
	if err != nil {
		t.Fatalf("StartApplication failed: %v", err)
	}
	runDone := make(chan error, 1)
	go func() { runDone <- app.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = app.Shutdown(context.Background())
		select {
		case <-runDone:
		case <-time.After(5 * time.Second):
			t.Error("app run goroutine did not exit")
		}
	})

	baseURL := app.LocalAPIBaseURL()
	waitHTTPReady(t, baseURL+"/healthz", 5*time.Second)

	wsCtx, wsCancel := context.WithTimeout(ctx, 10*time.Second)
	defer wsCancel()
	conn, _, err := websocket.Dial(wsCtx, "ws"+strings.TrimPrefix(baseURL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial ws failed: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	start, _ := json.Marshal(protocol.Message{ID: "req_1", Type: protocol.TypeRequest, Op: protocol.OpStartAgent, Payload: protocol.MustRaw(protocol.StartAgentPayload{APIKey: "sk-it", Model: "it-model"})})
	if err := conn.Write(wsCtx, websocket.MessageText, start); err != nil {
		t.Fatalf("write start failed: %v", err)
	}

	var output strings.Builder
	sawStopped := false
	for !sawStopped || !strings.Contains(output.String(), "ready:it-model") {
		_, raw, err := conn.Read(wsCtx)
		if err != nil {
			t.Fatalf("read ws failed (output so far %q): %v", output.String(), err)
		}
		var msg protocol.Message
		_ = json.Unmarshal(raw, &msg)
		switch msg.Op {
		case protocol.OpTerminalData:
			var p protocol.TerminalDataPayload
			_ = json.Unmarshal(msg.Payload, &p)
			output.WriteString(p.Data)
		case protocol.OpStatus:
			sawStopped = sawStopped || strings.Contains(string(msg.Payload), `"stopped"`) && output.Len() > 0
		}
	}

	artifact := filepath.Join(install, "openclaw.json")
	if raw, err := readFile(artifact); err != nil || !strings.Contains(raw, "it-model") {
		t.Fatalf("expected artifact with model, got %q err=%v", raw, err)
	}

	var body struct {
		OK   bool `json:"ok"`
		Data struct {
			Runs []struct {
				Status   string `json:"status"`
				ExitCode int    `json:"exit_code"`
				Model    string `json:"model"`
			} `json:"runs"`
		} `json:"data"`
	}
	resp, err := http.Get(baseURL + "/api/v1/runs?session=default")
	if err != nil {
		t.Fatalf("GET runs failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode runs failed: %v", err)
	}
	if !body.OK || len(body.Data.Runs) != 1 || body.Data.Runs[0].Status != "exited" || body.Data.Runs[0].Model != "it-model" {
		t.Fatalf("unexpected run history %+v", body)
	}
}
