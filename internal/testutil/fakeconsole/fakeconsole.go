// Package fakeconsole serves just enough of the phpmyadmin console for the
// export workflow to be tested without a real one.
package fakeconsole

import (
	"archive/zip"
	"bytes"
	"fmt"
	"hash/crc32"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

const (
	DefaultToken         = "3f2a9c0d4e5b6a7f"
	DefaultSessionCookie = "k9s8d7f6g5h4j3"
)

type File struct {
	Name    string
	Content []byte
	// Stored writes the entry uncompressed (method 0).
	Stored bool
}

type Options struct {
	// Tables maps database names to the tables they contain.
	Tables map[string][]string
	// Files overrides the archive returned by the export, when nil the archive
	// is generated from the submitted form.
	Files []File
	// LandingStatus, if set, makes the landing page fail with that status.
	LandingStatus int
	// NoSessionCookie omits the phpMyAdmin cookie from the landing page.
	NoSessionCookie bool
	// ExportStatus, if set, makes the export fail with that status.
	ExportStatus int
}

// Console is a running fake console, the recorded fields are safe to read
// once the requests that fill them returned.
type Console struct {
	*httptest.Server

	opts Options

	mutex        sync.Mutex
	langs        []string
	exportForms  []url.Values
	exportHeader []http.Header
}

func New(t testing.TB, opts Options) *Console {
	c := &Console{opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("/", c.landing)
	mux.HandleFunc("/db_structure.php", c.structure)
	mux.HandleFunc("/export.php", c.export)

	c.Server = httptest.NewServer(mux)
	t.Cleanup(c.Server.Close)
	return c
}

// Langs returns the pma_lang cookies received by the landing page.
func (c *Console) Langs() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string(nil), c.langs...)
}

// ExportForms returns the forms submitted to the export endpoint.
func (c *Console) ExportForms() []url.Values {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]url.Values(nil), c.exportForms...)
}

// ExportHeaders returns the request headers of every export submission.
func (c *Console) ExportHeaders() []http.Header {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]http.Header(nil), c.exportHeader...)
}

func errorPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<html><body><div class="alert alert-danger" role="alert">
		%s
	</div><script>CommonParams.setAll({token:"shouldnotbeused",});</script></body></html>`, html.EscapeString(message))
}

func (c *Console) landing(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	lang := ""
	if cookie, err := r.Cookie("pma_lang"); err == nil {
		lang = cookie.Value
	}
	c.mutex.Lock()
	c.langs = append(c.langs, lang)
	c.mutex.Unlock()

	if c.opts.LandingStatus != 0 {
		errorPage(w, c.opts.LandingStatus, "#2002 - No such file or directory")
		return
	}

	w.Header().Add("set-cookie", fmt.Sprintf("pma_lang=%s; path=/; HttpOnly", lang))
	if !c.opts.NoSessionCookie {
		w.Header().Add("set-cookie", fmt.Sprintf("phpMyAdmin=%s; path=/; HttpOnly", DefaultSessionCookie))
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="%s"><head>
<script data-cfasync="false" type="text/javascript">
// <![CDATA[
CommonParams.setAll({common_query:"",opendb_url:"db_structure.php",lang:"%s",server:"1",table:"",db:"",token:"%s",text_dir:"ltr",});
// ]]>
</script>
</head><body>
<form method="post" action="index.php"><input type="hidden" name="token" value="%s"></form>
</body></html>`, lang, lang, DefaultToken, DefaultToken)
}

func (c *Console) structure(w http.ResponseWriter, r *http.Request) {
	db := r.URL.Query().Get("db")
	tables, ok := c.opts.Tables[db]
	if !ok {
		errorPage(w, http.StatusNotFound, fmt.Sprintf("#1049 - Unknown database '%s'", db))
		return
	}

	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><table id=\"structureTable\">\n")
	for _, table := range tables {
		escaped := url.QueryEscape(table)
		fmt.Fprintf(
			w,
			`<tr><th><a href="sql.php?db=%s&amp;table=%s&amp;pos=0">%s</a></th>`+
				`<td><a href="tbl_structure.php?db=%s&amp;table=%s&amp;goto=db_structure.php">Structure</a></td></tr>`+"\n",
			db, escaped, html.EscapeString(table), db, escaped,
		)
	}
	fmt.Fprintf(w, "</table></body></html>")
}

func (c *Console) export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorPage(w, http.StatusMethodNotAllowed, "export expects a form submission")
		return
	}
	err := r.ParseForm()
	if err != nil {
		errorPage(w, http.StatusBadRequest, err.Error())
		return
	}

	c.mutex.Lock()
	c.exportForms = append(c.exportForms, r.PostForm)
	c.exportHeader = append(c.exportHeader, r.Header.Clone())
	c.mutex.Unlock()

	if c.opts.ExportStatus != 0 {
		errorPage(w, c.opts.ExportStatus, "export failed")
		return
	}
	cookie, err := r.Cookie("phpMyAdmin")
	if err != nil || cookie.Value != DefaultSessionCookie || r.PostForm.Get("token") != DefaultToken {
		errorPage(w, http.StatusBadRequest, "Failed to set session cookie. Maybe you are using HTTP instead of HTTPS.")
		return
	}

	files := c.opts.Files
	if files == nil {
		files = DumpFiles(r.PostForm)
	}
	archive, err := Archive(files)
	if err != nil {
		errorPage(w, http.StatusInternalServerError, err.Error())
		return
	}

	var body bytes.Buffer
	gz := gzip.NewWriter(&body)
	_, err = gz.Write(archive)
	if err == nil {
		err = gz.Close()
	}
	if err != nil {
		errorPage(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("content-type", "application/zip")
	w.Header().Set("content-encoding", "gzip")
	w.Header().Set("content-disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, r.PostForm.Get("db")))
	w.Write(body.Bytes())
}

// DumpFiles renders what the console would put in the archive for a form.
func DumpFiles(form url.Values) []File {
	db := form.Get("db")
	data := map[string]bool{}
	for _, table := range form["table_data[]"] {
		data[table] = true
	}

	dump := func(table string) string {
		var out strings.Builder
		fmt.Fprintf(&out, "CREATE TABLE `%s` (`id` int NOT NULL);\n", table)
		if data[table] {
			fmt.Fprintf(&out, "INSERT INTO `%s` (`id`) VALUES (1), (2);\n", table)
		}
		return out.String()
	}

	if form.Get("as_separate_files") != "" {
		files := []File{}
		for _, table := range form["table_structure[]"] {
			files = append(files, File{Name: table + ".sql", Content: []byte(dump(table))})
		}
		return files
	}

	var out strings.Builder
	if form.Get("sql_create_database") != "" {
		fmt.Fprintf(&out, "CREATE DATABASE IF NOT EXISTS `%s`;\n", db)
	}
	tables := append([]string(nil), form["table_structure[]"]...)
	sort.Strings(tables)
	for _, table := range tables {
		out.WriteString(dump(table))
	}
	return []File{{Name: db + ".sql", Content: []byte(out.String())}}
}

// Archive builds a zip container whose local headers carry their sizes, like
// the console's own zip writer does.
func Archive(files []File) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		payload := f.Content
		method := zip.Deflate
		if f.Stored {
			method = zip.Store
		} else {
			var compressed bytes.Buffer
			fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
			if err != nil {
				return nil, err
			}
			_, err = fw.Write(f.Content)
			if err != nil {
				return nil, err
			}
			err = fw.Close()
			if err != nil {
				return nil, err
			}
			payload = compressed.Bytes()
		}

		entry, err := w.CreateRaw(&zip.FileHeader{
			Name:               f.Name,
			Method:             method,
			CRC32:              crc32.ChecksumIEEE(f.Content),
			CompressedSize64:   uint64(len(payload)),
			UncompressedSize64: uint64(len(f.Content)),
		})
		if err != nil {
			return nil, err
		}
		_, err = entry.Write(payload)
		if err != nil {
			return nil, err
		}
	}
	err := w.Close()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
