//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestRunnerd_Healthz(t *testing.T) {
	infra := ensureInfra(t)
	repoRoot := repoRoot(t)
	tmpDir := t.TempDir()

	addr := freeAddr(t)
	healthURL := fmt.Sprintf("http://%s/healthz", addr)
	readyURL := fmt.Sprintf("http://%s/readyz", addr)

	bin := filepath.Join(tmpDir, "runnerd.bin")
	build := exec.Command("go", "build", "-o", bin, "./runnerd")
	build.Dir = repoRoot
	buildOut, err := build.CombinedOutput()
	if err != nil {
		t.Fatalf("go build ./runnerd: %v\n%s", err, string(buildOut))
	}

	var out bytes.Buffer
	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(),
		"BRANCHOPS_HTTP_ADDR="+addr,
		// Provider access is configured but never dialed by health checks.
		"BRANCHOPS_PROVIDER_BASE_URL=http://127.0.0.1:1",
		"BRANCHOPS_PROVIDER_TOKEN=e2e-token",
		"BRANCHOPS_PROJECT_ID=proj-e2e",
		"BRANCHOPS_AUTH_MODE=dev",
		"BRANCHOPS_MINIO_ENDPOINT="+infra.minioEndpoint,
		"BRANCHOPS_MINIO_ACCESS_KEY="+infra.minioAccessKey,
		"BRANCHOPS_MINIO_SECRET_KEY="+infra.minioSecretKey,
		"BRANCHOPS_MINIO_USE_SSL=false",
	)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		t.Fatalf("start runnerd: %v", err)
	}
	t.Cleanup(func() { stopProcess(t, cmd, &out) })

	waitHTTP200(t, readyURL)

	resp, err := http.Get(healthURL)
	if err != nil {
		t.Fatalf("GET %s: %v\n%s", healthURL, err, out.String())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status=%d, want 200\n%s", healthURL, resp.StatusCode, out.String())
	}
}

type infraConfig struct {
	minioEndpoint  string
	minioAccessKey string
	minioSecretKey string
}

func ensureInfra(t *testing.T) infraConfig {
	t.Helper()

	if endpoint := strings.TrimSpace(os.Getenv("BRANCHOPS_E2E_MINIO_ENDPOINT")); endpoint != "" {
		accessKey := strings.TrimSpace(os.Getenv("BRANCHOPS_E2E_MINIO_ACCESS_KEY"))
		secretKey := strings.TrimSpace(os.Getenv("BRANCHOPS_E2E_MINIO_SECRET_KEY"))
		if accessKey == "" || secretKey == "" {
			t.Fatalf("BRANCHOPS_E2E_MINIO_ACCESS_KEY and BRANCHOPS_E2E_MINIO_SECRET_KEY are required when using external minio")
		}
		return infraConfig{
			minioEndpoint:  endpoint,
			minioAccessKey: accessKey,
			minioSecretKey: secretKey,
		}
	}

	if strings.TrimSpace(os.Getenv("BRANCHOPS_E2E_SKIP_DOCKER")) == "1" {
		t.Skip("docker infra is disabled (BRANCHOPS_E2E_SKIP_DOCKER=1); set BRANCHOPS_E2E_MINIO_* to run")
	}

	if !commandExists("docker") {
		t.Skip("docker not found; set BRANCHOPS_E2E_MINIO_* to run without docker")
	}

	const (
		minioRootUser     = "branchops-root"
		minioRootPassword = "branchops-root-password"
	)

	container := fmt.Sprintf("branchops-e2e-minio-%d", time.Now().UnixNano())
	endpoint := startMinIO(t, container, minioRootUser, minioRootPassword)
	waitMinIOReady(t, endpoint, 20*time.Second)

	return infraConfig{
		minioEndpoint:  endpoint,
		minioAccessKey: minioRootUser,
		minioSecretKey: minioRootPassword,
	}
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func startMinIO(t *testing.T, name, rootUser, rootPassword string) string {
	t.Helper()

	image := strings.TrimSpace(os.Getenv("BRANCHOPS_E2E_MINIO_IMAGE"))
	if image == "" {
		image = "minio/minio@sha256:14cea493d9a34af32f524e538b8346cf79f3321eff8e708c1e2960462bd8936e"
	}

	run := exec.Command("docker", "run",
		"-d",
		"--rm",
		"--name", name,
		"-e", "MINIO_ROOT_USER="+rootUser,
		"-e", "MINIO_ROOT_PASSWORD="+rootPassword,
		"-p", "127.0.0.1:0:9000",
		image,
		"server", "/data", "--console-address", ":9001",
	)
	out, err := run.CombinedOutput()
	if err != nil {
		t.Fatalf("docker run minio: %v\n%s", err, string(out))
	}
	t.Cleanup(func() { _ = exec.Command("docker", "rm", "-f", name).Run() })

	port := dockerHostPort(t, name, "9000/tcp")
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func dockerHostPort(t *testing.T, containerName string, portProto string) int {
	t.Helper()

	cmd := exec.Command("docker", "inspect", "-f", fmt.Sprintf("{{(index (index .NetworkSettings.Ports %q) 0).HostPort}}", portProto), containerName)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("docker inspect %s: %v\n%s", containerName, err, string(out))
	}
	portRaw := strings.TrimSpace(string(out))
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 {
		t.Fatalf("invalid port mapping for %s (%s): %q", containerName, portProto, portRaw)
	}
	return port
}

func waitMinIOReady(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()

	url := fmt.Sprintf("http://%s/minio/health/ready", endpoint)
	client := &http.Client{Timeout: 500 * time.Millisecond}
	deadline := time.Now().Add(timeout)
	for {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for minio %s", url)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime.Caller failed")
	}
	return filepath.Dir(filepath.Dir(file))
}

func freeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitHTTP200(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 500 * time.Millisecond}
	deadline := time.Now().Add(8 * time.Second)
	for {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}

		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", url)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func stopProcess(t *testing.T, cmd *exec.Cmd, out *bytes.Buffer) {
	t.Helper()

	if cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	case err := <-done:
		if err != nil {
			body := out.String()
			if len(body) > 8000 {
				body = body[len(body)-8000:]
			}
			t.Fatalf("process exit: %v\n%s", err, body)
		}
	}
}
