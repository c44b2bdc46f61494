// Package imagery selects the imagery the globe is drawn with: a streamed
// photorealistic 3D tileset when credentials allow, otherwise the default
// terrain and imagery providers.
package imagery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/signalsfoundry/globe-overlay/internal/scene"
)

// GoogleTilesRootURL is the root document of Google Photorealistic 3D Tiles.
const GoogleTilesRootURL = "https://tile.googleapis.com/v1/3dtiles/root.json"

// maxRootBytes bounds the tileset root document read into memory.
const maxRootBytes = 8 << 20

// ErrMissingCredential indicates the preferred source has no API key.
var ErrMissingCredential = errors.New("imagery credential not configured")

// Default ion asset IDs for the fallback path.
const (
	WorldTerrainAssetID = 1
	WorldImageryAssetID = 2
)

// Loader fetches the preferred tileset.
type Loader interface {
	Load(ctx context.Context) (scene.Tileset, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (scene.Tileset, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) (scene.Tileset, error) { return f(ctx) }

// Fallback is the terrain and imagery pair attached when the preferred
// tileset is unavailable.
type Fallback struct {
	Terrain scene.TerrainProvider
	Imagery scene.ImageryProvider
}

// DefaultFallback returns world terrain and world imagery authorised with
// the given ion token.
func DefaultFallback(ionToken string) Fallback {
	return Fallback{
		Terrain: scene.TerrainProvider{Name: "world-terrain", AssetID: WorldTerrainAssetID, AccessToken: ionToken},
		Imagery: scene.ImageryProvider{Name: "world-imagery", AssetID: WorldImageryAssetID, AccessToken: ionToken},
	}
}

// TilesetLoader loads a 3D tileset root document over HTTP.
type TilesetLoader struct {
	RootURL string
	APIKey  string
	Client  *http.Client
}

// NewTilesetLoader constructs a loader for Google 3D Tiles with a bounded
// HTTP timeout.
func NewTilesetLoader(apiKey string) *TilesetLoader {
	return &TilesetLoader{
		RootURL: GoogleTilesRootURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type tilesetRoot struct {
	Asset *struct {
		Version string `json:"version"`
	} `json:"asset"`
	Root json.RawMessage `json:"root"`
}

// Load implements Loader. It fails fast with ErrMissingCredential when no
// key is configured and validates that the response is a tileset document.
func (l *TilesetLoader) Load(ctx context.Context) (scene.Tileset, error) {
	if l.APIKey == "" {
		return scene.Tileset{}, ErrMissingCredential
	}

	u, err := url.Parse(l.RootURL)
	if err != nil {
		return scene.Tileset{}, fmt.Errorf("parse tileset url: %w", err)
	}
	q := u.Query()
	q.Set("key", l.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return scene.Tileset{}, fmt.Errorf("build tileset request: %w", err)
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return scene.Tileset{}, fmt.Errorf("fetch tileset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return scene.Tileset{}, fmt.Errorf("fetch tileset: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRootBytes))
	if err != nil {
		return scene.Tileset{}, fmt.Errorf("read tileset: %w", err)
	}
	var root tilesetRoot
	if err := json.Unmarshal(body, &root); err != nil {
		return scene.Tileset{}, fmt.Errorf("decode tileset: %w", err)
	}
	if root.Asset == nil || len(root.Root) == 0 {
		return scene.Tileset{}, fmt.Errorf("decode tileset: missing asset or root")
	}

	return scene.Tileset{URL: u.String(), Root: body}, nil
}
