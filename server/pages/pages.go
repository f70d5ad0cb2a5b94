// Package pages renders the HTML pages of the gallery.
package pages

import (
	"context"
	"embed"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"

	"github.com/hosseinskia/imageflow/auditlog"
	"github.com/hosseinskia/imageflow/types"
)

//go:embed scripts/*.js
var scripts embed.FS

const style = `body{font-family:system-ui,sans-serif;margin:0;background:#f4f4f6;color:#222}
nav{display:flex;gap:1rem;padding:.75rem 1.5rem;background:#222}nav a{color:#eee;text-decoration:none}
main{max-width:960px;margin:2rem auto;padding:0 1rem}.error{color:#b00020}.tick{color:#2e7d32}
.grid{display:grid;grid-template-columns:repeat(auto-fill,minmax(200px,1fr));gap:1rem}
.grid div{background:#fff;padding:.5rem;border-radius:6px}.grid img{max-width:100%;cursor:pointer}
table{border-collapse:collapse;width:100%;background:#fff}td,th{border:1px solid #ddd;padding:.4rem;text-align:left}
#metadata span{display:block}`

// UploadLimits is shown on the upload form.
type UploadLimits struct {
	MaxFiles          int
	MaxFileSize       int64
	AllowedExtensions []string
}

// html writes markup, remembering the first write error.
type html struct {
	w   io.Writer
	err error
}

func (h *html) raw(s string) {
	if h.err != nil {
		return
	}
	_, h.err = io.WriteString(h.w, s)
}

func (h *html) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *html) rawf(format string, args ...any) {
	h.raw(fmt.Sprintf(format, args...))
}

func (h *html) script(name string) {
	src, err := scripts.ReadFile("scripts/" + name)
	if err != nil {
		if h.err == nil {
			h.err = err
		}
		return
	}
	h.raw("<script>")
	h.raw(string(src))
	h.raw("</script>")
}

// layout wraps body in the shared document shell. The navigation bar is only
// shown to signed in users.
func layout(title string, nav bool, bodyAttrs string, body func(h *html)) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.raw("<title>")
		h.text(title + " - ImageFlow")
		h.raw("</title><style>" + style + "</style></head>")
		h.raw("<body" + bodyAttrs + ">")
		if nav {
			h.raw(`<nav><a href="/home">Upload</a><a href="/pictures">Pictures</a><a href="/logs">Logs</a><a href="/logout">Logout</a></nav>`)
		}
		h.raw("<main>")
		body(h)
		h.raw("</main></body></html>")
		return h.err
	})
}

func Login(errMsg string) templ.Component {
	return layout("Login", false, "", func(h *html) {
		h.raw("<h1>ImageFlow</h1>")
		if errMsg != "" {
			h.raw(`<p class="error">`)
			h.text(errMsg)
			h.raw("</p>")
		}
		h.raw(`<form method="POST" action="/login">`)
		h.raw(`<p><label>Username <input type="text" name="username" autocomplete="username" required></label></p>`)
		h.raw(`<p><label>Password <input type="password" name="password" autocomplete="current-password" required></label></p>`)
		h.raw(`<button type="submit">Login</button></form>`)
	})
}

// Error is the generic error page. took is how long the request ran.
func Error(took, title, message string) templ.Component {
	return layout(title, false, "", func(h *html) {
		h.raw("<h1>")
		h.text(title)
		h.raw("</h1><p>")
		h.text(message)
		h.raw(`</p><p><small>`)
		h.text(took)
		h.raw(`</small></p><p><a href="/home">Back to ImageFlow</a></p>`)
	})
}

func NotFound() templ.Component {
	return layout("Not Found", false, "", func(h *html) {
		h.raw(`<h1>404 - Not Found</h1><p>The page or download link you requested does not exist or has expired.</p>`)
		h.raw(`<p><a href="/home">Back to ImageFlow</a></p>`)
	})
}

func ImageNotFound() templ.Component {
	return layout("Image Not Found", true, "", func(h *html) {
		h.raw(`<h1>Image not found</h1><p>This picture was deleted or never existed.</p>`)
		h.raw(`<p><a href="/pictures">Back to pictures</a></p>`)
	})
}

func TooManyRequests(window time.Duration) templ.Component {
	return layout("Too Many Requests", false, "", func(h *html) {
		h.raw(`<h1>429 - Too Many Requests</h1><p>`)
		h.text(fmt.Sprintf("Too many login attempts. Please try again in %s.", window.Round(time.Second)))
		h.raw(`</p>`)
	})
}

func Home(user string, limits UploadLimits) templ.Component {
	return layout("Upload", true, "", func(h *html) {
		h.raw("<h1>Welcome, ")
		h.text(user)
		h.raw("</h1>")
		h.rawf(`<form id="imageForm" enctype="multipart/form-data" data-max-files="%d">`, limits.MaxFiles)
		h.raw(`<input type="hidden" id="socketId" name="socketId">`)
		h.raw(`<input type="file" id="image" name="image" multiple accept="`)
		h.text(strings.Join(limits.AllowedExtensions, ","))
		h.raw(`"> <button type="submit">Upload</button></form><p><small>`)
		h.text(fmt.Sprintf("Up to %d images, %s each. Allowed: %s.",
			limits.MaxFiles, humanize.IBytes(uint64(limits.MaxFileSize)), strings.Join(limits.AllowedExtensions, ", ")))
		h.raw(`</small></p><div id="fileInfo"></div><div id="updates"></div>`)
		h.raw(`<p id="error" class="error"></p><div id="processedLinks" class="grid"></div>`)
		h.script("home.js")
	})
}

func Pictures(images []types.GalleryImage) templ.Component {
	return layout("Pictures", true, "", func(h *html) {
		h.raw(`<h1>Pictures</h1><p id="status" class="error"></p>`)
		if len(images) == 0 {
			h.raw(`<p>No images uploaded yet.</p>`)
			return
		}

		h.raw(`<p><button id="deleteAll">Delete all</button></p><div class="grid">`)
		for _, img := range images {
			file := img.Link[strings.LastIndex(img.Link, "/")+1:]
			h.raw(`<div><a href="/pictures/`)
			h.text(img.PictureID)
			h.raw(`"><img loading="lazy" alt="Preview" src="`)
			h.text(img.Link)
			h.raw(`"></a><br><small>`)
			h.text(file)
			h.raw(`</small><br><button data-delete="`)
			h.text(file)
			h.raw(`">Delete</button></div>`)
		}
		h.raw(`</div>`)
		h.script("pictures.js")
	})
}

func Logs(records []auditlog.Record) templ.Component {
	return layout("Logs", true, "", func(h *html) {
		h.raw(`<h1>Activity</h1>`)
		if len(records) == 0 {
			h.raw(`<p>No activity recorded.</p>`)
			return
		}

		h.raw(`<table><thead><tr><th>Date</th><th>IP</th><th>Device</th><th>Action</th><th>Image</th></tr></thead><tbody>`)
		for _, rec := range records {
			h.raw("<tr>")
			for _, cell := range []string{rec.Date, rec.IP, rec.Device, rec.Action} {
				h.raw("<td>")
				h.text(cell)
				h.raw("</td>")
			}
			h.raw("<td>")
			if rec.ImageLink != "" {
				h.raw(`<a href="`)
				h.text(rec.ImageLink)
				h.raw(`">`)
				h.text(rec.ImageLink)
				h.raw("</a>")
			}
			h.raw("</td></tr>")
		}
		h.raw(`</tbody></table>`)
	})
}

// PictureDetail is the shell of a picture's page; the details are fetched
// by the page script.
func PictureDetail(pictureID string) templ.Component {
	attrs := ` data-picture-id="` + templ.EscapeString(pictureID) + `"`
	return layout("Picture", true, attrs, func(h *html) {
		h.raw(`<h1>Picture</h1><img id="preview" alt="Preview"><div id="metadata"></div>`)
		h.raw(`<p><button id="downloadBtn">Download original</button> <span id="downloadStatus"></span></p>`)
		h.script("picture-detail.js")
	})
}
