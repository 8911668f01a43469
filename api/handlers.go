package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"library-service/library"
)

func idParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", library.ErrValidation, name)
	}
	return id, nil
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.lib.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindError(err))
		return
	}
	sess, err := s.issuer.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, library.ErrAuthentication) {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "Invalid email or password"})
			return
		}
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		AccessToken: sess.AccessToken,
		TokenType:   sess.TokenType,
		User:        toUserInfo(sess.Member),
	})
}

func (s *Server) signUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindError(err))
		return
	}
	in, err := req.input()
	if err != nil {
		fail(c, err)
		return
	}
	m, err := s.lib.Roster.SignUp(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User registered successfully", "email": m.Email})
}

func (s *Server) me(c *gin.Context) {
	claims := claimsFrom(c)
	if claims == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "User not authenticated"})
		return
	}
	m, err := s.issuer.Current(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "User not found"})
			return
		}
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserInfo(m))
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

func (s *Server) listBooks(c *gin.Context) {
	books, err := s.lib.Catalog.ListBooks(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBooks(books))
}

func (s *Server) getBook(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		fail(c, err)
		return
	}
	b, err := s.lib.Catalog.GetBook(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBook(b))
}

func (s *Server) searchByTitle(c *gin.Context) {
	books, err := s.lib.Catalog.SearchByTitle(c.Request.Context(), c.Query("title"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBooks(books))
}

func (s *Server) searchByAuthor(c *gin.Context) {
	books, err := s.lib.Catalog.SearchByAuthor(c.Request.Context(), c.Query("author"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBooks(books))
}

func (s *Server) addBook(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindError(err))
		return
	}
	b, err := s.lib.Catalog.AddBook(c.Request.Context(), req.input())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBook(b))
}

func (s *Server) updateBook(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		fail(c, err)
		return
	}
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindError(err))
		return
	}
	b, err := s.lib.Catalog.UpdateBook(c.Request.Context(), id, req.input())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBook(b))
}

func (s *Server) deleteBook(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.lib.Catalog.DeleteBook(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// listMembers returns every member, or only those of ?role= when given.
func (s *Server) listMembers(c *gin.Context) {
	var (
		members []*library.Member
		err     error
	)
	if raw := c.Query("role"); raw != "" {
		role, perr := s.policy.ParseRole(raw)
		if perr != nil {
			fail(c, perr)
			return
		}
		members, err = s.lib.Roster.ListMembersByRole(c.Request.Context(), role)
	} else {
		members, err = s.lib.Roster.ListMembers(c.Request.Context())
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toMembers(members))
}

func (s *Server) getMember(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		fail(c, err)
		return
	}
	m, err := s.lib.Roster.GetMember(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toMember(m))
}

func (s *Server) getMemberByEmail(c *gin.Context) {
	m, err := s.lib.Roster.GetMemberByEmail(c.Request.Context(), c.Query("email"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toMember(m))
}

func (s *Server) addMember(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindError(err))
		return
	}
	in, err := req.input(s.policy)
	if err != nil {
		fail(c, err)
		return
	}
	m, err := s.lib.Roster.AddMember(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMember(m))
}

func (s *Server) updateMember(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		fail(c, err)
		return
	}
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindError(err))
		return
	}
	in, err := req.input(s.policy)
	if err != nil {
		fail(c, err)
		return
	}
	// An omitted active flag keeps the stored one.
	if req.Active == nil {
		current, err := s.lib.Roster.GetMember(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		in.Active = current.Active
	}
	m, err := s.lib.Roster.UpdateMember(c.Request.Context(), id, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toMember(m))
}

func (s *Server) deleteMember(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.lib.Roster.DeleteMember(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Borrowings
// ---------------------------------------------------------------------------

func (s *Server) listLoans(c *gin.Context) {
	loans, err := s.lib.Ledger.ListAllLoans(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toLoans(loans))
}

func (s *Server) listActiveLoans(c *gin.Context) {
	loans, err := s.lib.Ledger.ListActiveLoans(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toLoans(loans))
}

func (s *Server) listMemberLoans(c *gin.Context) {
	id, err := idParam(c, "memberId")
	if err != nil {
		fail(c, err)
		return
	}
	loans, err := s.lib.Ledger.ListLoansForMember(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toLoans(loans))
}

func (s *Server) getLoan(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		fail(c, err)
		return
	}
	l, err := s.lib.Ledger.GetLoan(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toLoan(l))
}

func (s *Server) borrow(c *gin.Context) {
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, bindError(err))
		return
	}
	l, err := s.lib.Ledger.BorrowBook(c.Request.Context(), req.BookID, req.MemberID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toLoan(l))
}

func (s *Server) returnBook(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		fail(c, err)
		return
	}
	l, err := s.lib.Ledger.ReturnBook(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toLoan(l))
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func (s *Server) dashboard(c *gin.Context) {
	st, err := s.lib.Stats.Dashboard(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toDashboard(st))
}
