package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

// ServerClient sends requests to the nudgesync admin API.
type ServerClient struct {
	baseURL string
	http    *http.Client
}

// newServerClient builds a ServerClient from the --server flag or env var.
func newServerClient(cmd *cobra.Command) *ServerClient {
	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		server = os.Getenv("NUDGESYNC_SERVER")
	}
	if server == "" {
		server = defaultServer
	}
	return &ServerClient{
		baseURL: server,
		http:    &http.Client{},
	}
}

// envelope is the response shape every admin endpoint returns.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// get sends a GET and decodes the response envelope.
func (c *ServerClient) get(path string) (*envelope, error) {
	req, err := http.NewRequest("GET", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// post sends a JSON POST and decodes the response envelope.
func (c *ServerClient) post(path string, body interface{}) (*envelope, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// postFile sends a multipart POST with a clientName field and one file part.
func (c *ServerClient) postFile(path, clientName, filePath string) (*envelope, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("clientName", clientName); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest("POST", c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func (c *ServerClient) do(req *http.Request) (*envelope, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= 400 {
		if env.Message != "" {
			return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, env.Message)
		}
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
	}
	return &env, nil
}

// printData pretty-prints an envelope's data payload.
func printData(env *envelope) {
	if len(env.Data) == 0 {
		return
	}
	var out bytes.Buffer
	if json.Indent(&out, env.Data, "", "  ") == nil {
		fmt.Println(out.String())
	} else {
		fmt.Println(string(env.Data))
	}
}
