package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/WillianCassan/chatbot-with-rag/internal/util"
	"github.com/WillianCassan/chatbot-with-rag/pkg/auth"
	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
	"github.com/WillianCassan/chatbot-with-rag/services/admin/internal/app"
)

const credentialsError = "could not validate credentials"

// Limiter decides whether a keyed caller is within quota.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
	Window() time.Duration
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                *app.App
	LoginLimiter       Limiter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
	MaxRequestBytes    int64
	Location           *time.Location
}

// Server exposes HTTP endpoints for the admin service.
type Server struct {
	app             *app.App
	loginLimiter    Limiter
	trustedProxies  *util.TrustedProxies
	corsOrigins     []string
	maxRequestBytes int64
	location        *time.Location
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	maxRequestBytes := cfg.MaxRequestBytes
	if maxRequestBytes <= 0 {
		maxRequestBytes = 100 << 20
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	s := &Server{
		app:             cfg.App,
		loginLimiter:    cfg.LoginLimiter,
		trustedProxies:  cfg.TrustedProxies,
		corsOrigins:     cfg.CORSAllowedOrigins,
		maxRequestBytes: maxRequestBytes,
		location:        loc,
		mux:             http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("admin", util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// users
	s.mux.HandleFunc("/users/token", s.handleToken)
	s.mux.HandleFunc("/users/register", s.handleRegister)

	// files
	s.mux.Handle("/files/upload", s.withUser(s.handleUpload))
	s.mux.Handle("/files/update/", s.withUser(s.handleUpdate))
	s.mux.Handle("/files/download/", s.withUser(s.handleDownload))
	s.mux.Handle("/files/list", s.withUser(s.handleList))
	s.mux.Handle("/files/list-paginated", s.withUser(s.handleListPaginated))
	s.mux.Handle("/files/delete-file/", s.withUser(s.handleDelete))
	s.mux.Handle("/files/details/", s.withUser(s.handleDetails))
	s.mux.Handle("/files/resume", s.withUser(s.handleResume))
	s.mux.Handle("/files/resume-list", s.withUser(s.handleResumeList))
	s.mux.Handle("/files/last_update", s.withUser(s.handleLastUpdate))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			unauthorized(w)
			return
		}
		user, err := s.app.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				util.LoggerFromContext(r.Context()).Error("authenticate failed", "err", err)
			}
			unauthorized(w)
			return
		}
		next(w, r, user)
	})
}

// users

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Username    string `json:"username"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowLogin(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	tok, err := s.app.Login(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, app.ErrInvalidData) || errors.Is(err, app.ErrInvalidCredentials) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "invalid data")
			return
		}
		util.LoggerFromContext(r.Context()).Error("login failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: tok.AccessToken, TokenType: tok.TokenType, Username: tok.Username})
}

func (s *Server) allowLogin(w http.ResponseWriter, r *http.Request) bool {
	if s.loginLimiter == nil {
		return true
	}
	ip := util.ClientIP(r, s.trustedProxies)
	if s.loginLimiter.Allow(r.Context(), "login:"+ip) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(s.loginLimiter.Window().Seconds())))
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

type registerRequest struct {
	CPF         string `json:"cpf"`
	Password    string `json:"senha"`
	Responsible string `json:"responsavel"`
}

type userResponse struct {
	ID          string `json:"id"`
	CPF         string `json:"cpf"`
	Responsible string `json:"responsavel"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	authenticated := false
	if token, ok := bearerToken(r); ok {
		if _, err := s.app.Authenticate(r.Context(), token); err != nil {
			unauthorized(w)
			return
		}
		authenticated = true
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Register(r.Context(), app.RegisterRequest{
		CPF:         req.CPF,
		Password:    req.Password,
		Responsible: req.Responsible,
	}, authenticated)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, userResponse{ID: user.ID, CPF: user.CPF, Responsible: user.Responsible})
	case errors.Is(err, app.ErrRegistrationClosed):
		unauthorized(w)
	case errors.Is(err, app.ErrUserExists):
		writeError(w, http.StatusConflict, "user already registered")
	case errors.Is(err, app.ErrInvalidRegistration), errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("register failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// files

type sentFile struct {
	FileID      string    `json:"file_id"`
	Title       string    `json:"titulo_documento"`
	Subgroup    string    `json:"subgrupo"`
	Group       string    `json:"grupo"`
	Responsible string    `json:"responsavel"`
	Description string    `json:"descricao"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"data_envio"`
}

type failedFile struct {
	Filename string `json:"arquivo"`
	Error    string `json:"erro"`
}

type uploadResponse struct {
	Sent   []sentFile   `json:"enviados"`
	Failed []failedFile `json:"falharam"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	files := make([]app.UploadFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		opened = append(opened, f)
		files = append(files, app.UploadFile{Filename: h.Filename, Content: f})
	}

	res, err := s.app.Ingest(r.Context(), app.IngestRequest{
		Files:       files,
		Title:       r.FormValue("titulo_documento"),
		Subgroup:    r.FormValue("subgrupo"),
		Group:       r.FormValue("grupo"),
		Responsible: r.FormValue("responsavel"),
		Description: r.FormValue("descricao"),
	})
	if err != nil {
		var verr *app.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, app.ErrNoFiles):
			writeError(w, http.StatusBadRequest, "file is required (field: files)")
		default:
			util.LoggerFromContext(r.Context()).Error("ingest failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	util.LoggerFromContext(r.Context()).Info("upload processed",
		"user_id", user.ID, "accepted", len(res.Accepted), "rejected", len(res.Rejected))

	out := uploadResponse{Sent: make([]sentFile, 0, len(res.Accepted)), Failed: make([]failedFile, 0, len(res.Rejected))}
	for _, d := range res.Accepted {
		out.Sent = append(out.Sent, sentFile{
			FileID:      d.ID,
			Title:       d.Title,
			Subgroup:    d.Subgroup,
			Group:       d.Group,
			Responsible: d.Responsible,
			Description: d.Description,
			Status:      string(d.Status),
			SubmittedAt: d.SubmittedAt,
		})
	}
	internal := false
	for _, rej := range res.Rejected {
		if rej.Reason == app.ReasonInternal {
			internal = true
		}
		out.Failed = append(out.Failed, failedFile{Filename: rej.Filename, Error: rej.Reason})
	}
	status := http.StatusCreated
	switch {
	case len(out.Sent) > 0:
	case internal:
		status = http.StatusInternalServerError
	default:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, out)
}

type updateRequest struct {
	Title       string `json:"titulo"`
	Group       string `json:"grupo"`
	Subgroup    string `json:"subgrupo"`
	Description string `json:"descricao"`
	Responsible string `json:"responsavel"`
}

type updateResponse struct {
	ID          string `json:"id"`
	Title       string `json:"titulo"`
	Group       string `json:"grupo"`
	Subgroup    string `json:"subgrupo"`
	Description string `json:"descricao"`
	Responsible string `json:"responsavel"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/files/update/")
	if !ok {
		notFound(w, "not found")
		return
	}
	var req updateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	doc, err := s.app.UpdateDocument(r.Context(), id, app.DocumentUpdate{
		Title:       req.Title,
		Group:       req.Group,
		Subgroup:    req.Subgroup,
		Description: req.Description,
		Responsible: req.Responsible,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{
		ID:          doc.ID,
		Title:       doc.Title,
		Group:       doc.Group,
		Subgroup:    doc.Subgroup,
		Description: doc.Description,
		Responsible: doc.Responsible,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/files/download/")
	if !ok {
		notFound(w, "not found")
		return
	}
	doc, obj, err := s.app.OpenDocument(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	defer obj.Body.Close()
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		util.LoggerFromContext(r.Context()).Warn("download interrupted", "document_id", id, "err", err)
	}
}

type listItem struct {
	ID         string `json:"id"`
	Title      string `json:"titulo"`
	Group      string `json:"grupo"`
	Subgroup   string `json:"subgrupo"`
	Status     string `json:"status"`
	UploadDate string `json:"dataUpload"`
}

func (s *Server) toListItems(docs []domain.Document) []listItem {
	items := make([]listItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, listItem{
			ID:         d.ID,
			Title:      d.Title,
			Group:      d.Group,
			Subgroup:   d.Subgroup,
			Status:     string(d.Status),
			UploadDate: d.SubmittedAt.In(s.location).Format("2006-01-02"),
		})
	}
	return items
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	docs, err := s.app.ListDocuments(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toListItems(docs))
}

type pageResponse struct {
	Page        int        `json:"page"`
	Size        int        `json:"size"`
	Total       int64      `json:"total"`
	TotalPages  int        `json:"total_pages"`
	HasNext     bool       `json:"has_next"`
	HasPrevious bool       `json:"has_previous"`
	Items       []listItem `json:"items"`
}

func (s *Server) handleListPaginated(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	size, err := queryInt(r, "size")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid size")
		return
	}
	res, err := s.app.ListDocumentsPage(r.Context(), page, size)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{
		Page:        res.Page,
		Size:        res.Size,
		Total:       res.Total,
		TotalPages:  res.TotalPages,
		HasNext:     res.HasNext,
		HasPrevious: res.HasPrevious,
		Items:       s.toListItems(res.Items),
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/files/delete-file/")
	if !ok {
		notFound(w, "not found")
		return
	}
	if err := s.app.DeleteDocument(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("document removed", "document_id", id, "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

type detailsResponse struct {
	ID          string `json:"id"`
	Title       string `json:"titulo"`
	Group       string `json:"grupo"`
	Subgroup    string `json:"subgrupo"`
	Description string `json:"descricao"`
	UploadDate  string `json:"dataUpload"`
	Responsible string `json:"responsavel"`
	Status      string `json:"status"`
	Filename    string `json:"nomeArquivo"`
	Error       string `json:"erro,omitempty"`
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/files/details/")
	if !ok {
		notFound(w, "not found")
		return
	}
	doc, err := s.app.GetDocument(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detailsResponse{
		ID:          doc.ID,
		Title:       doc.Title,
		Group:       doc.Group,
		Subgroup:    doc.Subgroup,
		Description: doc.Description,
		UploadDate:  doc.SubmittedAt.In(s.location).Format("2006-01-02"),
		Responsible: doc.Responsible,
		Status:      string(doc.Status),
		Filename:    doc.Filename,
		Error:       doc.ErrorMessage,
	})
}

type countItem struct {
	Label string `json:"legenda"`
	Count int64  `json:"contagem"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	counts, err := s.app.PanelCounts(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, []countItem{
		{Label: "Arquivos Cadastrados", Count: counts.Documents},
		{Label: "Grupos Cadastrados", Count: counts.Groups},
		{Label: "Subgrupos Cadastrados", Count: counts.Subgroups},
	})
}

type groupItem struct {
	Group     string `json:"grupo"`
	Subgroup  string `json:"subGrupo"`
	Documents int64  `json:"quantidadeDocumentos"`
}

func (s *Server) handleResumeList(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	groups, err := s.app.GroupSummaries(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]groupItem, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupItem{Group: g.Group, Subgroup: g.Subgroup, Documents: g.Documents})
	}
	writeJSON(w, http.StatusOK, out)
}

type lastUpdateResponse struct {
	Date string `json:"data"`
	Hour string `json:"hora"`
}

func (s *Server) handleLastUpdate(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	last, ok, err := s.app.LastUpdate(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	local := last.In(s.location)
	writeJSON(w, http.StatusOK, lastUpdateResponse{Date: local.Format("02/01/2006"), Hour: local.Format("15:04")})
}

// writeAppError maps application errors to HTTP responses. Unknown errors
// are logged in full and reported as a coarse internal error.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	switch {
	case errors.Is(err, app.ErrDocumentNotFound):
		notFound(w, "document not found")
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request, prefix string) (string, bool) {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, credentialsError)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForAdmin(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForAdmin(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == credentialsError:
		return "AUTH_INVALID_TOKEN"
	case message == "invalid data":
		return "AUTH_INVALID_CREDENTIALS"
	case message == "too many requests":
		return "AUTH_RATE_LIMITED"
	case message == "user already registered":
		return "AUTH_USER_EXISTS"
	case message == "document not found":
		return "DOCUMENT_NOT_FOUND"
	case message == "file too large":
		return "DOCUMENT_FILE_TOO_LARGE"
	case strings.Contains(message, "file is required"):
		return "DOCUMENT_FILE_REQUIRED"
	case message == "invalid form data":
		return "DOCUMENT_INVALID_UPLOAD_FORM"
	case strings.HasPrefix(message, "field '"):
		return "DOCUMENT_INVALID_METADATA"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "DOCUMENT_NOT_FOUND"
	case http.StatusConflict:
		return "REQUEST_CONFLICT"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
