package handler

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/mshiba/terakoya/internal/middleware"
)

// ページはフロントエンドSPAへの置き換えを想定した最小限のサーバーレンダリング。
// ルートガードの検証対象となるナビゲーション面を提供する。
var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{if .Email}}<p>ログイン中: {{.Email}}</p>{{end}}
</body>
</html>
`))

// pageData はページテンプレートの描画データ。
type pageData struct {
	Title string
	Email string
}

// PageHandler はページルートのHTTPハンドラー。
type PageHandler struct{}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler() *PageHandler {
	return &PageHandler{}
}

// Home は認証済みユーザーのデフォルトの着地ページ。
// GET /home（ProtectedUser）
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "ホーム")
}

// Admin は教材管理ページ。
// GET /admin（ProtectedAdmin）
func (h *PageHandler) Admin(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "管理")
}

// Login はサインインページ。
// GET /login（Public）。return_toクエリはフロントエンドが利用する。
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "ログイン")
}

// render はページテンプレートを描画する。
func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, title string) {
	data := pageData{Title: title}
	if sess, err := middleware.SessionFromContext(r.Context()); err == nil {
		data.Email = sess.Email
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		slog.Error("failed to render page", slog.String("error", err.Error()))
	}
}
