package server

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webpubio/webpub/internal/merkle"
	"github.com/webpubio/webpub/internal/store"
	"github.com/webpubio/webpub/internal/utils"
)

// chunkCacheSize bounds the resolver's chunk LRU. At the maximum chunk size
// this is a few hundred MiB of hot site content.
const chunkCacheSize = 4096

// siteHandler resolves Host + path against the current snapshot and
// reassembles the file from the chunk pool.
type siteHandler struct {
	store *store.Store
	cache *lru.Cache[merkle.Hash, []byte]
}

func newSiteHandler(st *store.Store) (*siteHandler, error) {
	cache, err := lru.New[merkle.Hash, []byte](chunkCacheSize)
	if err != nil {
		return nil, err
	}
	return &siteHandler{store: st, cache: cache}, nil
}

func (h *siteHandler) Serve(c *gin.Context) {
	hostname := stripPort(c.Request.Host)

	_, tree, err := h.store.Current(hostname)
	if err != nil {
		if errors.Is(err, store.ErrSiteNotFound) {
			c.String(http.StatusNotFound, "Site not found")
		} else {
			c.String(http.StatusInternalServerError, "storage error")
		}
		return
	}

	node := resolvePath(tree, c.Param("path"))
	if node != nil && node.IsDir() {
		node = node.Child("index.html")
	}
	if node == nil || node.IsDir() {
		c.String(http.StatusNotFound, "Not found")
		return
	}

	data, err := h.reassemble(node)
	if err != nil {
		if errors.Is(err, store.ErrChunkNotFound) {
			c.String(http.StatusInternalServerError, "missing chunk")
		} else {
			c.String(http.StatusInternalServerError, "storage error")
		}
		return
	}

	c.Data(http.StatusOK, utils.DetectContentType(node.Name), data)
}

// resolvePath walks the tree segment by segment. Empty segments are
// ignored; matching is exact and case-sensitive. Returns nil when any
// segment is absent.
func resolvePath(tree *merkle.Node, path string) *merkle.Node {
	node := tree
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		if !node.IsDir() {
			return nil
		}
		node = node.Child(segment)
		if node == nil {
			return nil
		}
	}
	return node
}

// reassemble concatenates the file's chunks in order, reading through the
// LRU so hot chunks skip the shard round trip.
func (h *siteHandler) reassemble(node *merkle.Node) ([]byte, error) {
	data := make([]byte, 0, node.Size)
	for _, hash := range node.Chunks {
		if chunk, ok := h.cache.Get(hash); ok {
			data = append(data, chunk...)
			continue
		}
		chunk, err := h.store.GetChunk(hash)
		if err != nil {
			return nil, err
		}
		h.cache.Add(hash, chunk)
		data = append(data, chunk...)
	}
	return data, nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
