// Package fichiertest provides an in-process fake of the 1fichier web
// console for tests. It serves the same HTML fragments and form endpoints the
// real console does, keeps directories and files in memory, and lets tests
// inject failures per file.
package fichiertest

import (
	"bytes"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// RootID is the id of the account root.
const RootID = "0"

// SessionCookie is the cookie name the fake issues on a successful login.
const SessionCookie = "SID"

// Dir is a remote directory.
type Dir struct {
	ID       string
	Name     string
	ParentID string
}

// File is a remote file.
type File struct {
	ID      string
	Name    string
	DirID   string
	Content []byte
	added   int
}

// Server is a fake console bound to one account.
type Server struct {
	*httptest.Server

	email    string
	password string

	mu       sync.Mutex
	dirs     []*Dir
	files    []*File
	nextID   int
	seq      int
	sessions map[string]bool
	menu     bool
	calls    map[string]int

	contentStatus map[string]int
	linkStatus    map[string]int
	listStatus    map[string]int
	stallAfter    map[string]int
	ignoreRange   map[string]bool
}

// New starts a fake console accepting the given credentials. The server is
// closed when the test ends.
func New(t testing.TB, email, password string) *Server {
	t.Helper()

	s := &Server{
		email:         email,
		password:      password,
		nextID:        100,
		sessions:      make(map[string]bool),
		menu:          true,
		calls:         make(map[string]int),
		contentStatus: make(map[string]int),
		linkStatus:    make(map[string]int),
		listStatus:    make(map[string]int),
		stallAfter:    make(map[string]int),
		ignoreRange:   make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login.pl", s.handleLogin)
	mux.HandleFunc("/logout.pl", s.handleLogout)
	mux.HandleFunc("/console/dirs.pl", s.requireSession(s.handleDirs))
	mux.HandleFunc("/console/files.pl", s.requireSession(s.handleFiles))
	mux.HandleFunc("/console/link.pl", s.requireSession(s.handleLink))
	mux.HandleFunc("/console/params.pl", s.requireSession(s.handleParams))
	mux.HandleFunc("/console/mkdir.pl", s.requireSession(s.handleMkdir))
	mux.HandleFunc("/console/op.pl", s.requireSession(s.handleMove))
	mux.HandleFunc("/console/remove.pl", s.requireSession(s.handleRemove))
	mux.HandleFunc("/content/", s.handleContent)
	mux.HandleFunc("/", s.requireSession(s.handleAuthLink))

	s.Server = httptest.NewServer(s.count(mux))
	t.Cleanup(s.Close)

	return s
}

// AddDir creates a directory and returns its id.
func (s *Server) AddDir(parentID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addDirLocked(parentID, name)
}

func (s *Server) addDirLocked(parentID, name string) string {
	id := strconv.Itoa(s.nextID)
	s.nextID++
	s.dirs = append(s.dirs, &Dir{ID: id, Name: name, ParentID: parentID})

	return id
}

// AddFile stores a file in dirID and returns its id. Later files sort first
// in listings, as they were added more recently.
func (s *Server) AddFile(dirID, name string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := "F" + strconv.Itoa(s.nextID)
	s.nextID++
	s.files = append(s.files, &File{
		ID:      id,
		Name:    name,
		DirID:   dirID,
		Content: append([]byte(nil), content...),
		added:   s.seq,
	})

	return id
}

// FailContent makes every content request for fileID answer with status.
func (s *Server) FailContent(fileID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contentStatus[fileID] = status
}

// FailLink makes link resolution for fileID answer with status.
func (s *Server) FailLink(fileID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.linkStatus[fileID] = status
}

// FailDirListing makes the directory listing of dirID answer with status.
func (s *Server) FailDirListing(dirID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listStatus[dirID] = status
}

// StallContent makes the next content request for fileID send the first
// after bytes and then hang until the client goes away. One-shot.
func (s *Server) StallContent(fileID string, after int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stallAfter[fileID] = after
}

// IgnoreRange makes content requests for fileID always answer 200 with the
// full body, as servers without range support do.
func (s *Server) IgnoreRange(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ignoreRange[fileID] = true
}

// FilesIn returns copies of the files currently in dirID.
func (s *Server) FilesIn(dirID string) []File {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []File

	for _, f := range s.files {
		if f.DirID == dirID {
			out = append(out, *f)
		}
	}

	return out
}

// DirsIn returns copies of the directories directly under parentID.
func (s *Server) DirsIn(parentID string) []Dir {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Dir

	for _, d := range s.dirs {
		if d.ParentID == parentID {
			out = append(out, *d)
		}
	}

	return out
}

// HasFile reports whether fileID still exists.
func (s *Server) HasFile(fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fileLocked(fileID) != nil
}

// Calls returns how many requests hit the given path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[path]
}

// MenuEnabled reports the current download-menu setting.
func (s *Server) MenuEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.menu
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(SessionCookie)

		s.mu.Lock()
		ok := err == nil && s.sessions[ck.Value]
		s.mu.Unlock()

		if !ok {
			http.Error(w, "not logged in", http.StatusForbidden)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if r.PostForm.Get("mail") != s.email || r.PostForm.Get("pass") != s.password {
		// The real console re-renders the login form with status 200.
		fmt.Fprint(w, `<html><body><form action="/login.pl"><input name="mail"></form></body></html>`)
		return
	}

	s.mu.Lock()
	s.seq++
	token := "sess-" + strconv.Itoa(s.seq)
	s.sessions[token] = true
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: token, Path: "/"})
	fmt.Fprint(w, `<html><body>Welcome</body></html>`)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if ck, err := r.Cookie(SessionCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, ck.Value)
		s.mu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	fmt.Fprint(w, `<html><body>Bye</body></html>`)
}

func (s *Server) handleDirs(w http.ResponseWriter, r *http.Request) {
	parent := r.URL.Query().Get("dir_id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if status, ok := s.listStatus[parent]; ok {
		http.Error(w, "listing failed", status)
		return
	}

	var b strings.Builder

	b.WriteString("<ul>")

	for _, d := range s.dirs {
		if d.ParentID != parent {
			continue
		}

		marker := ""
		if s.hasChildDirsLocked(d.ID) {
			marker = `<div class="fcp"></div>`
		}

		fmt.Fprintf(&b, `<li rel="%s"><div>%s&nbsp;<span>(%d)</span>%s</div></li>`,
			html.EscapeString(d.ID), html.EscapeString(d.Name), s.fileCountLocked(d.ID), marker)
	}

	b.WriteString("</ul>")
	fmt.Fprint(w, b.String())
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	dirID := r.URL.Query().Get("dir_id")

	s.mu.Lock()
	defer s.mu.Unlock()

	var files []*File

	for _, f := range s.files {
		if f.DirID == dirID {
			files = append(files, f)
		}
	}

	if r.URL.Query().Get("oby") == "da" {
		sort.SliceStable(files, func(i, j int) bool { return files[i].added > files[j].added })
	}

	var b strings.Builder

	b.WriteString("<ul>")

	for _, f := range files {
		fmt.Fprintf(&b, `<li class="file" rel="%s"><a href="#">%s</a><span class="size">%d</span></li>`,
			html.EscapeString(f.ID), html.EscapeString(f.Name), len(f.Content))
	}

	b.WriteString("</ul>")
	fmt.Fprint(w, b.String())
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("selected[]")

	s.mu.Lock()
	status, failed := s.linkStatus[fileID]
	f := s.fileLocked(fileID)
	s.mu.Unlock()

	if failed {
		http.Error(w, "link failed", status)
		return
	}

	if f == nil {
		fmt.Fprint(w, `<div>No file selected</div>`)
		return
	}

	fmt.Fprintf(w, `<div><a href="https://help.example.com/faq">Help</a>`+
		`<a href="%s/?dl-%s">%s/?dl-%s</a></div>`, s.URL, f.ID, s.URL, f.ID)
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	enabled, err := strconv.ParseBool(r.URL.Query().Get("menu"))
	if err != nil {
		http.Error(w, "bad menu value", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.menu = enabled
	s.mu.Unlock()

	fmt.Fprint(w, "OK")
}

// handleAuthLink answers "<link>&e=1&auth=1" with "<direct url>;<name>;<size>".
func (s *Server) handleAuthLink(w http.ResponseWriter, r *http.Request) {
	token, rest, _ := strings.Cut(r.URL.RawQuery, "&")
	fileID, ok := strings.CutPrefix(token, "dl-")

	if r.URL.Path != "/" || !ok || !strings.Contains(rest, "auth=1") {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	menu := s.menu
	f := s.fileLocked(fileID)
	s.mu.Unlock()

	if f == nil {
		http.NotFound(w, r)
		return
	}

	if menu {
		fmt.Fprint(w, `<html><body><form>Click to download</form></body></html>`)
		return
	}

	fmt.Fprintf(w, "%s/content/%s;%s;%d", s.URL, f.ID, f.Name, len(f.Content))
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	fileID := strings.TrimPrefix(r.URL.Path, "/content/")

	s.mu.Lock()
	status, failed := s.contentStatus[fileID]
	stall, stalls := s.stallAfter[fileID]
	delete(s.stallAfter, fileID)
	ignore := s.ignoreRange[fileID]
	f := s.fileLocked(fileID)

	var content []byte
	if f != nil {
		content = f.Content
	}
	s.mu.Unlock()

	switch {
	case failed:
		http.Error(w, "injected failure", status)
	case f == nil:
		http.NotFound(w, r)
	case stalls:
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content[:min(stall, len(content))])

		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}

		<-r.Context().Done()
	case ignore:
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
	default:
		http.ServeContent(w, r, f.Name, time.Time{}, bytes.NewReader(content))
	}
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.addDirLocked(r.PostForm.Get("dir_id"), r.PostForm.Get("mkdir"))
	s.mu.Unlock()

	fmt.Fprint(w, "OK")
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if f := s.fileLocked(r.PostForm.Get("dragged[]")); f != nil && r.PostForm.Get("dragged_type") == "2" {
		f.DirID = r.PostForm.Get("dropped_dir")
	}
	s.mu.Unlock()

	fmt.Fprint(w, "OK")
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := r.PostForm.Get("selected[]")

	s.mu.Lock()
	if r.PostForm.Get("remove") == "1" {
		for i, f := range s.files {
			if f.ID == id {
				s.files = append(s.files[:i], s.files[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	fmt.Fprint(w, "OK")
}

func (s *Server) fileLocked(id string) *File {
	for _, f := range s.files {
		if f.ID == id {
			return f
		}
	}

	return nil
}

func (s *Server) hasChildDirsLocked(id string) bool {
	for _, d := range s.dirs {
		if d.ParentID == id {
			return true
		}
	}

	return false
}

func (s *Server) fileCountLocked(dirID string) int {
	n := 0

	for _, f := range s.files {
		if f.DirID == dirID {
			n++
		}
	}

	return n
}
