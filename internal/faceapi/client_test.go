package faceapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid http", "http://localhost:8000", false},
		{"valid https with trailing slash", "https://faces.local/", false},
		{"missing scheme", "localhost:8000", true},
		{"bad scheme", "ftp://localhost:8000", true},
		{"missing host", "http://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("could not parse multipart form: %v", err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file field: %v", err)
		}
		file.Close()

		json.NewEncoder(w).Encode(DetectResult{
			Faces: []Face{
				{BBox: [4]float64{10, 20, 110, 140}, Embedding: []float32{0.1, 0.2}, DetScore: 0.92},
			},
			ImageWidth:       1920,
			ImageHeight:      1080,
			ProcessingTimeMS: 41.5,
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("could not create client: %v", err)
	}

	result, err := client.Detect(context.Background(), []byte("fake-jpeg"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(result.Faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(result.Faces))
	}
	if result.Faces[0].DetScore != 0.92 {
		t.Errorf("expected det score 0.92, got %f", result.Faces[0].DetScore)
	}
	if result.ImageWidth != 1920 || result.ImageHeight != 1080 {
		t.Errorf("unexpected image size %dx%d", result.ImageWidth, result.ImageHeight)
	}
}

func TestDetectServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL)
	_, err := client.Detect(context.Background(), []byte("fake-jpeg"))
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !IsTransient(err) {
		t.Errorf("5xx error should be transient, got %v", err)
	}
}

func TestDetectBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not an image", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL)
	_, err := client.Detect(context.Background(), []byte("not-an-image"))
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if IsTransient(err) {
		t.Errorf("4xx error must not be transient, got %v", err)
	}
}

func TestDetectConnectionRefused(t *testing.T) {
	client, _ := NewClient("http://127.0.0.1:1")
	_, err := client.Detect(context.Background(), []byte("fake-jpeg"))
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !IsTransient(err) {
		t.Errorf("connection failure should be transient, got %v", err)
	}
}

func TestExtractEmbedding(t *testing.T) {
	imageData := []byte("fake-png")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract-embedding" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req extractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("could not decode request: %v", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			t.Fatalf("image payload is not valid base64: %v", err)
		}
		if string(decoded) != string(imageData) {
			t.Errorf("image payload does not round-trip")
		}

		json.NewEncoder(w).Encode(extractResponse{
			Embedding: []float32{0.5, -0.5, 0.25},
			DetScore:  0.88,
		})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL)
	embedding, err := client.ExtractEmbedding(context.Background(), imageData)
	if err != nil {
		t.Fatalf("ExtractEmbedding failed: %v", err)
	}
	if len(embedding) != 3 {
		t.Errorf("expected 3-dim embedding, got %d", len(embedding))
	}
}

func TestExtractEmbeddingNoFace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(extractResponse{})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL)
	_, err := client.ExtractEmbedding(context.Background(), []byte("empty"))
	if err == nil {
		t.Fatal("expected error for empty embedding")
	}
	if IsTransient(err) {
		t.Errorf("missing face must not be transient, got %v", err)
	}
}

func TestCheckDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(HealthInfo{
			Status:             "ok",
			Version:            "1.4.0",
			Model:              "buffalo_l",
			EmbeddingDimension: 512,
		})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL)

	if err := client.CheckDimension(context.Background(), 512); err != nil {
		t.Errorf("expected matching dimension to pass, got %v", err)
	}

	err := client.CheckDimension(context.Background(), 128)
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if IsTransient(err) {
		t.Errorf("dimension mismatch is a configuration error, must not be transient: %v", err)
	}
}

func TestCheckDimensionUnreachableIsTransient(t *testing.T) {
	client, _ := NewClient("http://127.0.0.1:1")
	err := client.CheckDimension(context.Background(), 512)
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !IsTransient(err) {
		t.Errorf("unreachable service should be transient, got %v", err)
	}
}
