package integrationtests

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestServerIntegrationErrorBackend checks that requests still succeed when
// the shared backend fails half of its operations.
func TestServerIntegrationErrorBackend(t *testing.T) {
	workspaceDir, binaryPath := buildBinary(t)
	cacheDir := filepath.Join(workspaceDir, "test-cache-error")
	defer os.RemoveAll(cacheDir)
	os.RemoveAll(cacheDir)
	writeCatalog(t, cacheDir)

	errorRate := 0.5
	t.Logf("Running server with %.2f%% error rate...", errorRate*100)
	baseURL, output := startServer(t, binaryPath, freePort(t),
		[]string{"ERROR_RATE=" + fmt.Sprintf("%f", errorRate), "BACKEND_TYPE=disk"},
		"-cache-dir="+cacheDir, "-debug")

	for i := 0; i < 20; i++ {
		for _, path := range []string{
			"/home",
			"/episodes/Star%20Plus/Anupamaa?load_more=true",
			"/episode/Star%20Plus/Anupamaa/Episode%202",
		} {
			status, body := getBody(t, baseURL+path)
			if status != http.StatusOK {
				t.Fatalf("GET %s: status %d, body %s\nOutput:\n%s", path, status, body, output.String())
			}
		}
	}

	if !strings.Contains(output.String(), "error injection enabled") {
		t.Fatalf("Expected error injection to be enabled\nOutput:\n%s", output.String())
	}
	t.Log("✓ All requests succeeded despite backend errors")
}
