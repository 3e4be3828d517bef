package api

import (
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gomaillist/gml/internal/auth"
	"github.com/gomaillist/gml/internal/crypto"
	"github.com/gomaillist/gml/internal/logger"
	"github.com/gomaillist/gml/internal/storage"
)

// 登录令牌有效期
const tokenExpiry = 24 * time.Hour

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// signupHandler 用户注册
func signupHandler(store storage.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Email    string `json:"email"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		// 邮箱可以不填，填了必须格式正确
		if req.Email != "" && !emailPattern.MatchString(req.Email) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "邮箱格式不正确",
			})
			return
		}

		ctx := c.Request.Context()

		// 用户名和邮箱都不能重复
		if _, err := store.GetUserByUsername(ctx, req.Username); err == nil {
			c.JSON(http.StatusConflict, gin.H{
				"error": "用户名已存在",
			})
			return
		} else if !errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
			return
		}
		if req.Email != "" {
			if _, err := store.GetUserByEmail(ctx, req.Email); err == nil {
				c.JSON(http.StatusConflict, gin.H{
					"error": "邮箱已被注册",
				})
				return
			} else if !errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": err.Error(),
				})
				return
			}
		}

		// 哈希密码
		passwordHash, err := crypto.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "密码哈希失败",
			})
			return
		}

		user := &storage.User{
			ID:           uuid.NewString(),
			Username:     req.Username,
			Email:        req.Email,
			PasswordHash: passwordHash,
			CreatedAt:    time.Now(),
		}

		if err := store.CreateUser(ctx, user); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id": user.ID,
		})
	}
}

// loginHandler 用户登录，签发 JWT
func loginHandler(store storage.Driver, jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		ctx := c.Request.Context()
		user, err := store.GetUserByUsername(ctx, req.Username)
		if err != nil {
			// 用户不存在和密码错误返回同样的信息
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "用户名或密码错误",
			})
			return
		}

		ok, err := crypto.VerifyPassword(req.Password, user.PasswordHash)
		if err != nil || !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "用户名或密码错误",
			})
			return
		}

		token, err := jwtManager.GenerateToken(user.ID, user.Username, tokenExpiry)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "签发令牌失败",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": user.ID,
		})
	}
}

// createMailingListHandler 创建邮件列表并启动看守进程
func createMailingListHandler(store storage.Driver, watchers WatcherStarter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name        string   `json:"list_name" binding:"required"`
			OwnerID     string   `json:"owner" binding:"required"`
			Subscribers []string `json:"subscribers"`
			SMTPKey     string   `json:"smtp_key"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		ctx := c.Request.Context()

		// 所有者和全部订阅者必须是已注册用户
		if _, err := store.GetUserByID(ctx, req.OwnerID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "所有者不存在",
			})
			return
		}
		for _, id := range req.Subscribers {
			if _, err := store.GetUserByID(ctx, id); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "订阅者不存在: " + id,
				})
				return
			}
		}

		list := &storage.MailingList{
			ID:            uuid.NewString(),
			Name:          req.Name,
			OwnerID:       req.OwnerID,
			SubscriberIDs: req.Subscribers,
			SMTPKey:       req.SMTPKey,
			CreatedAt:     time.Now(),
		}

		if err := store.CreateMailingList(ctx, list); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
			return
		}

		// 看守进程启动失败不影响列表的创建，只记录日志
		if watchers != nil {
			if err := watchers.StartWatcher(ctx, list); err != nil {
				logger.Warn().Err(err).Str("list_id", list.ID).Msg("看守进程启动失败")
			}
		}

		c.JSON(http.StatusCreated, gin.H{
			"id": list.ID,
		})
	}
}

// deleteMailingListHandler 删除邮件列表
func deleteMailingListHandler(store storage.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctx := c.Request.Context()

		if err := store.DeleteMailingList(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "列表不存在",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "列表已删除",
		})
	}
}

// listMailingListsHandler 列出全部邮件列表
func listMailingListsHandler(store storage.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lists, err := store.ListMailingLists(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
			return
		}

		// 不返回邮箱凭据
		for _, list := range lists {
			list.SMTPKey = ""
		}

		c.JSON(http.StatusOK, gin.H{
			"mailing_lists": lists,
		})
	}
}

// listMailingListsByUserHandler 列出某个用户拥有的邮件列表
func listMailingListsByUserHandler(store storage.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		ctx := c.Request.Context()

		lists, err := store.ListMailingListsByOwner(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
			})
			return
		}

		// 不返回邮箱凭据
		for _, list := range lists {
			list.SMTPKey = ""
		}

		c.JSON(http.StatusOK, gin.H{
			"mailing_lists": lists,
		})
	}
}
