// Package main is a smoke-test utility that verifies the panel backend's
// HTTP API is reachable and returning valid responses. It hits the health
// endpoint and the provider list and prints the status codes and response
// bodies, making it useful for quick post-deployment checks without needing
// external tooling like curl or a full integration test suite.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	base := os.Getenv("SMM_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	get(base+"/health", "")
	get(base+"/api/v1/providers?filter=all", os.Getenv("SMM_ADMIN_TOKEN"))
}

func get(url, token string) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading body: %v\n", err)
		return
	}

	fmt.Printf("GET %s\nStatus: %d\nResponse:\n%s\n\n", url, resp.StatusCode, string(body))
}
