package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// lockedBuffer collects process output while the test reads it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const testCatalog = `
page_size: 2
channels:
  - name: Star Plus
    shows:
      - title: Anupamaa
        icon: https://img.example/anupamaa.png
        episodes:
          - name: Episode 3
            parts:
              - title: Part 1
                url: https://video.example/a3-1.m3u8
          - name: Episode 2
            parts:
              - title: Part 1
                url: https://video.example/a2-1.m3u8
          - name: Episode 1
            parts:
              - title: Part 1
                url: https://video.example/a1-1.m3u8
              - title: Part 2
                url: https://video.example/a1-2.m3u8
  - name: Colors
    shows:
      - title: Naagin
        icon: https://img.example/naagin.png
`

// buildBinary compiles the tvserver binary into the workspace builds directory.
func buildBinary(t *testing.T) (workspaceDir, binaryPath string) {
	t.Helper()
	currentDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	// Go up one directory since we're in integrationtests/
	workspaceDir = filepath.Join(currentDir, "..")
	buildDir := filepath.Join(workspaceDir, "builds")
	binaryPath = filepath.Join(buildDir, "tvserver")

	if err := os.MkdirAll(buildDir, 0755); err != nil {
		t.Fatalf("Failed to create build directory: %v", err)
	}

	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	buildCmd.Dir = workspaceDir
	buildOutput, err := buildCmd.CombinedOutput()
	if err != nil {
		t.Fatalf("Failed to compile binary: %v\nOutput: %s", err, buildOutput)
	}
	t.Log("✓ Binary compiled successfully")
	return workspaceDir, binaryPath
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeCatalog(t *testing.T, cacheDir string) {
	t.Helper()
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		t.Fatalf("Failed to create cache directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cacheDir, "catalog.yaml"), []byte(testCatalog), 0644); err != nil {
		t.Fatalf("Failed to write catalog: %v", err)
	}
}

// startServer runs the binary with args and waits until /health answers.
// The process is stopped when the test ends.
func startServer(t *testing.T, binaryPath string, port int, env []string, args ...string) (baseURL string, output *lockedBuffer) {
	t.Helper()
	return startProcess(t, binaryPath, port, env, append([]string{"serve", fmt.Sprintf("-port=%d", port)}, args...)...)
}

// startProcess runs the binary with exactly args and waits until a server
// answers /health on port.
func startProcess(t *testing.T, binaryPath string, port int, env []string, args ...string) (baseURL string, output *lockedBuffer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	output = &lockedBuffer{}
	cmd := exec.CommandContext(ctx, binaryPath, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Start(); err != nil {
		cancel()
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		cmd.Wait()
	})

	baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return baseURL, output
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Server did not become healthy\nOutput:\n%s", output.String())
	return "", nil
}

func getBody(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", url, err)
	}
	return resp.StatusCode, body
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	status, body := getBody(t, url)
	if status != http.StatusOK {
		t.Fatalf("GET %s: status %d, body %s", url, status, body)
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("GET %s: invalid JSON %s: %v", url, body, err)
	}
}
