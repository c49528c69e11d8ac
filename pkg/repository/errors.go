package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"github.com/clamentos/blackhole/pkg/pool"
)

// Category is the client-safe classification of a persistence failure.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryConnection
	CategoryIntegrity
	CategorySyntax
)

func (c Category) String() string {
	switch c {
	case CategoryConnection:
		return "connection"
	case CategoryIntegrity:
		return "integrity"
	case CategorySyntax:
		return "syntax"
	default:
		return "unknown"
	}
}

// Error is returned by every Repository operation that fails.
type Error struct {
	Op       string
	Table    string
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s error: %v", e.Op, e.Table, e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CategoryOf extracts the category of a repository error, CategoryUnknown
// for anything else.
func CategoryOf(err error) Category {
	var re *Error
	if errors.As(err, &re) {
		return re.Category
	}
	return CategoryUnknown
}

// MySQL server error numbers.
var mysqlCategories = map[uint16]Category{
	1062: CategoryIntegrity, // ER_DUP_ENTRY
	1451: CategoryIntegrity, // ER_ROW_IS_REFERENCED_2
	1452: CategoryIntegrity, // ER_NO_REFERENCED_ROW_2
	1048: CategoryIntegrity, // ER_BAD_NULL_ERROR
	1364: CategoryIntegrity, // ER_NO_DEFAULT_FOR_FIELD
	1216: CategoryIntegrity, // ER_NO_REFERENCED_ROW
	1217: CategoryIntegrity, // ER_ROW_IS_REFERENCED

	1064: CategorySyntax, // ER_PARSE_ERROR
	1146: CategorySyntax, // ER_NO_SUCH_TABLE
	1054: CategorySyntax, // ER_BAD_FIELD_ERROR
	1149: CategorySyntax, // ER_SYNTAX_ERROR

	1040: CategoryConnection, // ER_CON_COUNT_ERROR
	1042: CategoryConnection, // ER_BAD_HOST_ERROR
	1043: CategoryConnection, // ER_HANDSHAKE_ERROR
	1047: CategoryConnection, // ER_UNKNOWN_COM_ERROR
	1053: CategoryConnection, // ER_SERVER_SHUTDOWN
	1077: CategoryConnection, // ER_NORMAL_SHUTDOWN
	1078: CategoryConnection, // ER_GOT_SIGNAL
	1079: CategoryConnection, // ER_SHUTDOWN_COMPLETE
	1080: CategoryConnection, // ER_FORCING_CLOSE
	1081: CategoryConnection, // ER_IPSOCK_ERROR
	2002: CategoryConnection, // CR_CONNECTION_ERROR
	2006: CategoryConnection, // CR_SERVER_GONE_ERROR
	2013: CategoryConnection, // CR_SERVER_LOST
}

// Classify decides whether err is worth a reconnect and retry (connection)
// or is a property of the data or statement.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if c, ok := mysqlCategories[myErr.Number]; ok {
			return c
		}
		return CategoryUnknown
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrConstraint:
			return CategoryIntegrity
		case sqlite3.ErrError:
			return CategorySyntax
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB:
			return CategoryConnection
		}
		return CategoryUnknown
	}

	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return CategoryConnection
	case errors.Is(err, pool.ErrPoolClosed), errors.Is(err, context.DeadlineExceeded):
		return CategoryConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryConnection
	}
	return CategoryUnknown
}
