package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// httpCmd talks to the server's loopback admin endpoints.
func httpCmd(name string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	subject := fs.String("subject", "", "subject id (toggle)")
	enabled := fs.Bool("enabled", true, "turn dynamic light on or off (toggle)")
	_ = fs.Parse(args)

	base := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1"
	var req *http.Request
	switch name {
	case "lights":
		req, _ = http.NewRequest(http.MethodGet, base+"/lights", nil)
	case "toggle":
		if strings.TrimSpace(*subject) == "" {
			fmt.Fprintln(os.Stderr, "missing -subject")
			os.Exit(2)
		}
		body, _ := json.Marshal(map[string]any{"subject": *subject, "enabled": *enabled})
		req, _ = http.NewRequest(http.MethodPost, base+"/toggle", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	case "reload":
		req, _ = http.NewRequest(http.MethodPost, base+"/reload", nil)
	case "request-snapshot":
		req, _ = http.NewRequest(http.MethodPost, base+"/snapshot", nil)
	}

	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
