package middleware

import (
	"github.com/threadline-ai/threadline/backend/internal/storage"
	"github.com/threadline-ai/threadline/backend/pkg/access"
	"github.com/threadline-ai/threadline/backend/pkg/store"

	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"
)

// App carries the shared dependencies of every request.
type App struct {
	Store     store.Store
	Queue     *amqp091.Channel
	Access    *access.Cache
	Texts     *storage.TextLoader
	JWTSecret []byte
}

// AppContext wraps the echo context with the app and the authenticated
// principal. Principal stays nil for service tokens, which disables
// permission filtering.
type AppContext struct {
	echo.Context
	App       *App
	Principal *access.Principal
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
