package http

import (
	"fmt"
	"html"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/freekieb7/burrow/filesystem"
)

// serveStatic is the fallback for requests no handler took. Resources are
// read-only: write methods are refused and other methods on an existing
// resource get 405.
func (e *Engine) serveStatic(c *Conn) uint16 {
	method := c.request.Method

	switch method {
	case "PUT", "DELETE", "MKCOL", "PATCH":
		return e.sendError(c, StatusMethodNotAllowed)
	}
	if e.files == nil || c.request.Path == "*" {
		return e.sendError(c, StatusNotFound)
	}

	name := path.Clean("/" + c.request.Path)
	readOnly := method == "GET" || method == "HEAD"

	if c.request.Header.HasToken("Accept-Encoding", "gzip") {
		if ok, _ := e.files.IsFile(name + ".gz"); ok {
			if !readOnly {
				return e.sendError(c, StatusMethodNotAllowed)
			}
			return e.sendFile(c, name+".gz", contentType(name), "gzip")
		}
	}

	info, err := e.files.FileMetaData(name)
	if err != nil {
		return e.sendError(c, StatusNotFound)
	}
	if !readOnly {
		return e.sendError(c, StatusMethodNotAllowed)
	}

	if !info.IsDir() {
		return e.sendFile(c, name, contentType(name), "")
	}

	if !strings.HasSuffix(c.request.Path, "/") {
		location := (&url.URL{Path: c.request.Path + "/", RawQuery: c.request.Query}).String()
		header := Header{}
		header.Set("Location", location)
		header.Set("Content-Length", "0")
		c.WriteHeader(StatusMovedPermanently, header)
		return StatusMovedPermanently
	}

	for _, index := range c.settings.indexFiles {
		candidate := path.Join(name, index)
		if ok, _ := e.files.IsFile(candidate); ok {
			return e.sendFile(c, candidate, contentType(candidate), "")
		}
	}

	if !c.settings.directoryListing {
		return e.sendError(c, StatusForbidden)
	}
	return e.sendListing(c, name)
}

func (e *Engine) sendError(c *Conn, status uint16) uint16 {
	if err := c.writeError(status); err != nil {
		c.logger.Warn("writing error response failed", "status", status, "error", err)
	}
	return status
}

func contentType(name string) string {
	ext := filesystem.GetFileExtension(name)
	if ctype := mime.TypeByExtension(ext); ctype != "" {
		return ctype
	}
	return "application/octet-stream"
}

func (e *Engine) sendFile(c *Conn, name, ctype, encoding string) uint16 {
	file, err := e.files.Open(name)
	if err != nil {
		return e.sendError(c, StatusNotFound)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return e.sendError(c, StatusInternalServerError)
	}

	header := Header{}
	header.Set("Content-Type", ctype)
	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	header.Set("Last-Modified", info.ModTime().UTC().Format(dateFormat))
	if encoding != "" {
		header.Set("Content-Encoding", encoding)
		header.Set("Vary", "Accept-Encoding")
	}

	if err := c.WriteHeader(StatusOK, header); err != nil {
		c.mustClose = true
		return StatusOK
	}
	if c.request.Method == "HEAD" {
		return StatusOK
	}

	if n, err := io.Copy(connWriter{c}, file); err != nil || n != info.Size() {
		// the promised length was not delivered
		c.mustClose = true
		c.logger.Warn("sending file failed", "file", name, "sent", n, "error", err)
	}
	return StatusOK
}

func (e *Engine) sendListing(c *Conn, name string) uint16 {
	entries, err := e.files.ListDirectory(name)
	if err != nil {
		return e.sendError(c, StatusNotFound)
	}

	var b strings.Builder
	title := html.EscapeString(c.request.Path)
	fmt.Fprintf(&b, "<html><head><title>Index of %s</title></head><body>", title)
	fmt.Fprintf(&b, "<h1>Index of %s</h1><pre>", title)
	if name != "/" {
		b.WriteString("<a href=\"../\">../</a>\n")
	}
	for _, entry := range entries {
		entryName := entry.Name()
		if entry.IsDir() {
			entryName += "/"
		}
		href := (&url.URL{Path: entryName}).String()
		fmt.Fprintf(&b, "<a href=\"%s\">%s</a>  %s  %s\n",
			html.EscapeString(href), html.EscapeString(entryName),
			entry.ModTime().UTC().Format("02-Jan-2006 15:04"), entrySize(entry))
	}
	b.WriteString("</pre></body></html>\n")

	if err := c.WriteResponse(StatusOK, "text/html; charset=utf-8", []byte(b.String())); err != nil {
		c.mustClose = true
	}
	return StatusOK
}

func entrySize(info os.FileInfo) string {
	if info.IsDir() {
		return "[DIRECTORY]"
	}
	return strconv.FormatInt(info.Size(), 10)
}
