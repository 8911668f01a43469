// Package api exposes the library over HTTP.
package api

import (
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"library-service/auth"
	"library-service/library"
)

type Server struct {
	lib    *library.LibraryManager
	issuer *auth.Issuer
	policy *library.Policy
	log    zerolog.Logger
}

func NewServer(lib *library.LibraryManager, issuer *auth.Issuer, policy *library.Policy, log zerolog.Logger) *Server {
	return &Server{lib: lib, issuer: issuer, policy: policy, log: log}
}

var jsonFieldNames sync.Once

// useJSONFieldNames makes validation errors name fields the way clients
// spell them.
func useJSONFieldNames() {
	jsonFieldNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	useJSONFieldNames()

	r := gin.New()
	r.Use(requestLogger(s.log), recovery())

	r.GET("/health", s.health)

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/login", s.login)
	authGroup.POST("/signup", s.signUp)
	authGroup.GET("/me", requireAuth(s.issuer), s.me)

	secured := api.Group("", requireAuth(s.issuer))
	admin := requireRole(library.RoleAdmin)

	books := secured.Group("/books")
	books.GET("", s.listBooks)
	books.GET("/:id", s.getBook)
	books.GET("/search/title", s.searchByTitle)
	books.GET("/search/author", s.searchByAuthor)
	books.POST("", admin, s.addBook)
	books.PUT("/:id", admin, s.updateBook)
	books.DELETE("/:id", admin, s.deleteBook)

	members := secured.Group("/members", admin)
	members.GET("", s.listMembers)
	members.GET("/:id", s.getMember)
	members.GET("/search/email", s.getMemberByEmail)
	members.POST("", s.addMember)
	members.PUT("/:id", s.updateMember)
	members.DELETE("/:id", s.deleteMember)

	borrowings := secured.Group("/borrowings")
	borrowings.GET("", s.listLoans)
	borrowings.GET("/active", s.listActiveLoans)
	borrowings.GET("/member/:memberId", s.listMemberLoans)
	borrowings.GET("/:id", s.getLoan)
	borrowings.POST("/borrow", s.borrow)
	borrowings.POST("/:id/return", s.returnBook)

	secured.GET("/stats/dashboard", s.dashboard)

	return r
}

// Handler wraps the router with CORS for the given browser origins.
func (s *Server) Handler(origins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", headerRequestID},
		ExposedHeaders:   []string{headerRequestID},
		AllowCredentials: true,
		MaxAge:           600,
	})
	return c.Handler(s.Router())
}
