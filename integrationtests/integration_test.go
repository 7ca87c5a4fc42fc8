package integrationtests

import (
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

type episodesResponse struct {
	Episodes []string `json:"episodes"`
	HasMore  bool     `json:"has_more"`
}

func TestServerIntegration(t *testing.T) {
	workspaceDir, binaryPath := buildBinary(t)
	cacheDir := filepath.Join(workspaceDir, "test-cache")
	defer os.RemoveAll(cacheDir)
	os.RemoveAll(cacheDir)
	writeCatalog(t, cacheDir)

	t.Log("Step 1: Starting the server...")
	baseURL, output := startServer(t, binaryPath, freePort(t), nil, "-cache-dir="+cacheDir, "-backend=disk")
	t.Log("✓ Server is healthy")

	t.Log("Step 2: Fetching the home screen...")
	status, body := getBody(t, baseURL+"/home")
	if status != http.StatusOK {
		t.Fatalf("GET /home: status %d\nOutput:\n%s", status, output.String())
	}
	if strings.Index(string(body), `"Star Plus"`) > strings.Index(string(body), `"Colors"`) {
		t.Fatalf("Channel order not preserved: %s", body)
	}
	t.Log("✓ Home screen keeps channel order")

	t.Log("Step 3: Paging through episodes...")
	var page episodesResponse
	getJSON(t, baseURL+"/episodes/Star%20Plus/Anupamaa?load_more=false", &page)
	if len(page.Episodes) != 2 || !page.HasMore {
		t.Fatalf("First page = %+v, want 2 episodes and more", page)
	}
	getJSON(t, baseURL+"/episodes/Star%20Plus/Anupamaa?load_more=true", &page)
	if len(page.Episodes) != 3 || page.HasMore {
		t.Fatalf("After load_more = %+v, want all 3 episodes", page)
	}
	t.Log("✓ load_more returns the cumulative list")

	t.Log("Step 4: Fetching episode parts...")
	var parts [][]string
	getJSON(t, baseURL+"/episode/Star%20Plus/Anupamaa/Episode%201", &parts)
	if len(parts) != 2 || parts[1][0] != "Part 2" || parts[1][1] != "https://video.example/a1-2.m3u8" {
		t.Fatalf("Episode parts = %v", parts)
	}
	t.Log("✓ Episode parts served as [title, url] pairs")

	if status, _ := getBody(t, baseURL+"/episode/Colors/Naagin/Episode%209"); status != http.StatusNotFound {
		t.Fatalf("Unknown episode: status %d, want 404", status)
	}

	entries, err := os.ReadDir(filepath.Join(cacheDir, "responses"))
	if err != nil {
		t.Fatalf("Failed to read responses directory: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("Expected cached responses in the cache directory")
	}
	t.Logf("✓ %d files in the response cache", len(entries))

	t.Log("Step 5: Clearing the cache...")
	clearCmd := exec.Command(binaryPath, "clear", "-backend=disk", "-cache-dir="+cacheDir)
	clearOutput, err := clearCmd.CombinedOutput()
	if err != nil {
		t.Fatalf("Failed to clear cache: %v\nOutput: %s", err, clearOutput)
	}
	entries, err = os.ReadDir(filepath.Join(cacheDir, "responses"))
	if err != nil {
		t.Fatalf("Failed to read responses directory: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("Expected an empty response cache after clear, found %d files", len(entries))
	}
	t.Logf("✓ Cache cleared successfully: %s", strings.TrimSpace(string(clearOutput)))

	t.Log("=== All integration tests passed! ===")
}

// TestServerIntegrationSharedBackend runs two servers with separate cache
// directories over one disk backend and checks that the second is served
// from the first one's entries.
func TestServerIntegrationSharedBackend(t *testing.T) {
	workspaceDir, binaryPath := buildBinary(t)
	var (
		cacheA     = filepath.Join(workspaceDir, "test-cache-a")
		cacheB     = filepath.Join(workspaceDir, "test-cache-b")
		sharedDir  = filepath.Join(workspaceDir, "test-cache-shared")
		lockDir    = filepath.Join(workspaceDir, "test-dedupe-locks")
		commonArgs = []string{"-backend=disk", "-backend-dir=" + sharedDir, "-compress", "-dedupe=fslock", "-dedupe-lock-dir=" + lockDir}
	)
	for _, dir := range []string{cacheA, cacheB, sharedDir, lockDir} {
		os.RemoveAll(dir)
		defer os.RemoveAll(dir)
	}
	writeCatalog(t, cacheA)

	baseA, _ := startServer(t, binaryPath, freePort(t), nil, append([]string{"-cache-dir=" + cacheA}, commonArgs...)...)
	var page episodesResponse
	getJSON(t, baseA+"/episodes/Star%20Plus/Anupamaa?page=0", &page)
	if len(page.Episodes) != 2 {
		t.Fatalf("Page 0 from A = %+v", page)
	}

	// B has no catalog, so it can only answer from the shared backend.
	baseB, _ := startServer(t, binaryPath, freePort(t), nil, append([]string{"-cache-dir=" + cacheB}, commonArgs...)...)
	getJSON(t, baseB+"/episodes/Star%20Plus/Anupamaa?page=0", &page)
	if len(page.Episodes) != 2 || page.Episodes[0] != "Episode 3" {
		t.Fatalf("Page 0 from B = %+v", page)
	}

	var stats struct {
		Cache struct {
			BackendHits int64 `json:"backend_hits"`
		} `json:"cache"`
	}
	getJSON(t, baseB+"/stats", &stats)
	if stats.Cache.BackendHits != 1 {
		t.Fatalf("Backend hits on B = %d, want 1", stats.Cache.BackendHits)
	}
	t.Log("✓ Second server answered from the shared backend")
}
