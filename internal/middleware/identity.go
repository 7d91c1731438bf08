package middleware

import (
    "fmt"
    "strconv"

    "github.com/labstack/echo/v4"
)

// currentUserID renders the user_id stored by JWTAuth as a string for
// cache and rate-limit keys.  It returns "anon" for guests.
func currentUserID(c echo.Context) string {
    switch v := c.Get("user_id").(type) {
    case string:
        if v != "" {
            return v
        }
    case float64:
        return strconv.FormatUint(uint64(v), 10)
    case uint64:
        return strconv.FormatUint(v, 10)
    case nil:
    default:
        return fmt.Sprint(v)
    }
    return "anon"
}
