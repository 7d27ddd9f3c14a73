// Package storage управляет базой данных сервиса: пользователи, менторы,
// ордера копи-трейдинга и балансы счетов. Здесь же живут проводки по
// балансу - ядро агрегации баланс никогда не вычисляет, только читает.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"copyfund/internal/models"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrUserExists = errors.New("user already exists")
)

// Notifier получает уведомления об изменениях записей.
// Реализуется фидом изменений (backend.Hub).
type Notifier interface {
	OrderChanged(userID int64, orderID string, kind string, settled bool)
	BalanceChanged(bal models.AccountBalance)
}

// Storage управляет базой данных сервиса
type Storage struct {
	db       *sql.DB
	logger   *slog.Logger
	notifier Notifier

	// Сериализует мутации с проводками: баланс хранится точным десятичным
	// текстом и пересчитывается в Go, поэтому read-modify-write внутри
	// транзакции должен выполняться одним писателем за раз
	mu sync.Mutex
}

// querier - общее подмножество *sql.DB и *sql.Tx для хелперов чтения,
// работающих и внутри транзакции, и вне её
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New создает новый экземпляр Storage
func New(dbPath string, logger *slog.Logger) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		db:     db,
		logger: logger,
	}

	if err := s.init(); err != nil {
		return nil, err
	}

	return s, nil
}

// SetNotifier подключает фид изменений. До подключения мутации не публикуются.
func (s *Storage) SetNotifier(n Notifier) {
	s.notifier = n
}

// Close закрывает соединение с БД
func (s *Storage) Close() error {
	return s.db.Close()
}

// init инициализирует таблицы БД
func (s *Storage) init() error {
	migrationSQL := `
-- Пользователи веб-приложения
CREATE TABLE if NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Менторы (наставники копи-трейдинга)
CREATE TABLE if NOT EXISTS mentors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    NAME TEXT NOT NULL,
    years INTEGER NOT NULL DEFAULT 0,
    avatar TEXT NOT NULL DEFAULT ''
);

-- Ордера копи-трейдинга: две независимые оси статусов
CREATE TABLE if NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    mentor_id INTEGER,
    amount TEXT NOT NULL,
    commission_rate TEXT NOT NULL DEFAULT '0',
    profit TEXT,
    settle_status TEXT NOT NULL DEFAULT 'UNSETTLED',
    review_status TEXT NOT NULL DEFAULT 'PENDING',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX if NOT EXISTS idx_orders_user ON orders(user_id);
CREATE INDEX if NOT EXISTS idx_orders_user_created ON orders(user_id, created_at DESC);

-- Балансы счетов: мутируются только проводками
CREATE TABLE if NOT EXISTS balances (
    user_id INTEGER PRIMARY KEY,
    total TEXT NOT NULL DEFAULT '0',
    available TEXT NOT NULL DEFAULT '0',
    FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
);
`

	if _, err := s.db.Exec(migrationSQL); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	s.logger.Info("✅ Database initialized")

	return nil
}

// === Users ===

// CreateUser создает нового пользователя с нулевым балансом
func (s *Storage) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	var id int64

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO users (username, password_hash)
			VALUES (?, ?)
		`, username, passwordHash)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		id, _ = result.LastInsertId()

		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO balances (user_id, total, available) VALUES (?, '0', '0')
		`, id); err != nil {
			return fmt.Errorf("failed to create balance: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &models.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// GetUserByUsername получает пользователя по имени
func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User

	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// === Mentors ===

// CreateMentor создает ментора
func (s *Storage) CreateMentor(ctx context.Context, m models.Mentor) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO mentors (name, years, avatar) VALUES (?, ?, ?)
	`, m.Name, m.Years, m.Avatar)
	if err != nil {
		return 0, fmt.Errorf("failed to create mentor: %w", err)
	}

	id, _ := result.LastInsertId()
	return id, nil
}

// ListMentors возвращает всех менторов
func (s *Storage) ListMentors(ctx context.Context) ([]models.Mentor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, years, avatar FROM mentors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mentors []models.Mentor
	for rows.Next() {
		var m models.Mentor
		if err := rows.Scan(&m.ID, &m.Name, &m.Years, &m.Avatar); err != nil {
			return nil, err
		}
		mentors = append(mentors, m)
	}

	return mentors, rows.Err()
}

// === Orders ===

// CreateOrder создает ордер и списывает вверенную сумму с available.
// Вставка и проводка атомарны: сорвавшаяся проводка откатывает ордер.
func (s *Storage) CreateOrder(ctx context.Context, o models.Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var bal models.AccountBalance

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, user_id, mentor_id, amount, commission_rate, profit,
				settle_status, review_status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)
		`, o.ID, o.UserID, o.MentorID, o.Amount.String(), o.CommissionRate.String(),
			string(models.SettleUnsettled), string(models.ReviewPending), o.CreatedAt, o.UpdatedAt); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		// Вверенная сумма блокируется на счёте
		var err error
		bal, err = s.applyPosting(ctx, tx, o.UserID, decimal.Zero, o.Amount.Neg())

		return err
	})
	if err != nil {
		return err
	}

	s.notifyBalance(bal)
	s.notifyOrder(o.UserID, o.ID, "insert", false)

	return nil
}

// GetOrder получает ордер по id
func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.getOrder(ctx, s.db, id)
}

func (s *Storage) getOrder(ctx context.Context, q querier, id string) (*models.Order, error) {
	row := q.QueryRowContext(ctx, selectOrderSQL+` WHERE o.id = ?`, id)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return o, nil
}

// ListOrders возвращает ордера пользователя внутри окна, новые первыми,
// вместе с данными ментора. Пустой результат - это успех, а не ошибка.
func (s *Storage) ListOrders(ctx context.Context, userID int64, win models.Window) ([]models.Order, error) {
	query := selectOrderSQL + ` WHERE o.user_id = ?`
	args := []any{userID}

	if !win.From.IsZero() {
		query += ` AND o.created_at >= ?`
		args = append(args, win.From)
	}
	if !win.To.IsZero() {
		query += ` AND o.created_at <= ?`
		args = append(args, win.To)
	}

	query += ` ORDER BY o.created_at DESC, o.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			// Битая запись не должна ронять выборку целиком
			s.logger.Warn("skipping malformed order row", slog.Any("error", err))
			continue
		}
		orders = append(orders, *o)
	}

	return orders, rows.Err()
}

// ApproveOrder переводит ордер в APPROVED
func (s *Storage) ApproveOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var o *models.Order

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		o, err = s.updateReview(ctx, tx, id, models.ReviewApproved, nil, nil)
		return err
	})
	if err != nil {
		return err
	}

	s.notifyOrder(o.UserID, o.ID, "update", false)

	return nil
}

// RejectOrder отклоняет ордер и возвращает вверенную сумму на счёт.
// Прибыль остаётся неизвестной (NULL).
func (s *Storage) RejectOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		o   *models.Order
		bal models.AccountBalance
	)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		o, err = s.updateReview(ctx, tx, id, models.ReviewRejected, nil, nil)
		if err != nil {
			return err
		}

		bal, err = s.applyPosting(ctx, tx, o.UserID, decimal.Zero, o.Amount)
		return err
	})
	if err != nil {
		return err
	}

	s.notifyBalance(bal)
	s.notifyOrder(o.UserID, o.ID, "update", false)

	return nil
}

// SettleOrder фиксирует расчёт: проставляет прибыль, закрывает обе оси
// статусов и проводит итог по балансу (возврат суммы плюс прибыль).
// Статусы и проводка коммитятся одной транзакцией.
func (s *Storage) SettleOrder(ctx context.Context, id string, profit decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		o   *models.Order
		bal models.AccountBalance
	)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		settle := models.SettleSettled

		var err error
		o, err = s.updateReview(ctx, tx, id, models.ReviewSettled, &settle, &profit)
		if err != nil {
			return err
		}

		bal, err = s.applyPosting(ctx, tx, o.UserID, profit, o.Amount.Add(profit))
		return err
	})
	if err != nil {
		return err
	}

	s.notifyBalance(bal)
	s.notifyOrder(o.UserID, o.ID, "update", true)

	return nil
}

// DeleteOrder удаляет ордер (административная операция)
func (s *Storage) DeleteOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var o *models.Order

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		o, err = s.getOrder(ctx, tx, id)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.notifyOrder(o.UserID, o.ID, "delete", false)

	return nil
}

func (s *Storage) updateReview(
	ctx context.Context,
	tx *sql.Tx,
	id string,
	review models.ReviewStatus,
	settle *models.SettleStatus,
	profit *decimal.Decimal,
) (*models.Order, error) {
	o, err := s.getOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	query := `UPDATE orders SET review_status = ?, updated_at = ?`
	args := []any{string(review), time.Now().UTC()}

	if settle != nil {
		query += `, settle_status = ?`
		args = append(args, string(*settle))
	}
	if profit != nil {
		query += `, profit = ?`
		args = append(args, profit.String())
	}

	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update order %s: %w", id, err)
	}

	return o, nil
}

// === Balances ===

// GetBalance возвращает баланс счёта пользователя
func (s *Storage) GetBalance(ctx context.Context, userID int64) (models.AccountBalance, error) {
	return s.getBalance(ctx, s.db, userID)
}

func (s *Storage) getBalance(ctx context.Context, q querier, userID int64) (models.AccountBalance, error) {
	var (
		bal          = models.AccountBalance{UserID: userID}
		total, avail string
	)

	err := q.QueryRowContext(ctx, `
		SELECT total, available FROM balances WHERE user_id = ?
	`, userID).Scan(&total, &avail)
	if errors.Is(err, sql.ErrNoRows) {
		return bal, ErrNotFound
	}
	if err != nil {
		return bal, err
	}

	if bal.Total, err = decimal.NewFromString(total); err != nil {
		return bal, fmt.Errorf("malformed total for user %d: %w", userID, err)
	}
	if bal.Available, err = decimal.NewFromString(avail); err != nil {
		return bal, fmt.Errorf("malformed available for user %d: %w", userID, err)
	}

	return bal, nil
}

// ApplyPosting проводит внешнюю операцию по счёту (пополнение, вывод)
// и публикует push с новым балансом
func (s *Storage) ApplyPosting(ctx context.Context, userID int64, deltaTotal, deltaAvailable decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bal models.AccountBalance

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		bal, err = s.applyPosting(ctx, tx, userID, deltaTotal, deltaAvailable)
		return err
	})
	if err != nil {
		return err
	}

	s.notifyBalance(bal)

	return nil
}

// applyPosting выполняет проводку внутри транзакции вызывающего и
// возвращает новый баланс. Push публикует вызывающий после коммита -
// до коммита новые цифры никому не видны.
func (s *Storage) applyPosting(ctx context.Context, tx *sql.Tx, userID int64, deltaTotal, deltaAvailable decimal.Decimal) (models.AccountBalance, error) {
	bal, err := s.getBalance(ctx, tx, userID)
	if err != nil {
		return bal, err
	}

	bal.Total = bal.Total.Add(deltaTotal)
	bal.Available = bal.Available.Add(deltaAvailable)

	if _, err := tx.ExecContext(ctx, `
		UPDATE balances SET total = ?, available = ? WHERE user_id = ?
	`, bal.Total.String(), bal.Available.String(), userID); err != nil {
		return bal, fmt.Errorf("failed to update balance for user %d: %w", userID, err)
	}

	return bal, nil
}

// === transactions & notifications ===

func (s *Storage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (s *Storage) notifyOrder(userID int64, orderID, kind string, settled bool) {
	if s.notifier != nil {
		s.notifier.OrderChanged(userID, orderID, kind, settled)
	}
}

func (s *Storage) notifyBalance(bal models.AccountBalance) {
	if s.notifier != nil {
		s.notifier.BalanceChanged(bal)
	}
}

// === scanning ===

const selectOrderSQL = `
	SELECT o.id, o.user_id, COALESCE(o.mentor_id, 0), o.amount, o.commission_rate,
		o.profit, o.settle_status, o.review_status, o.created_at, o.updated_at,
		m.name, m.years, m.avatar
	FROM orders o
	LEFT JOIN mentors m ON m.id = o.mentor_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o              models.Order
		amount, rate   string
		profit         sql.NullString
		settle, review string
		name, avatar   sql.NullString
		years          sql.NullInt64
	)

	if err := row.Scan(&o.ID, &o.UserID, &o.MentorID, &amount, &rate,
		&profit, &settle, &review, &o.CreatedAt, &o.UpdatedAt,
		&name, &years, &avatar); err != nil {
		return nil, err
	}

	var err error
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("malformed amount in order %s: %w", o.ID, err)
	}
	if o.CommissionRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("malformed commission_rate in order %s: %w", o.ID, err)
	}
	if profit.Valid {
		p, err := decimal.NewFromString(profit.String)
		if err != nil {
			return nil, fmt.Errorf("malformed profit in order %s: %w", o.ID, err)
		}
		o.Profit = &p
	}

	o.SettleStatus = models.SettleStatus(settle)
	o.ReviewStatus = models.ReviewStatus(review)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()

	// Отсутствующий ментор деградирует до заглушки, выборку не роняем
	if name.Valid && name.String != "" {
		o.MentorName = name.String
		o.MentorYears = int(years.Int64)
		o.MentorAvatar = avatar.String
	} else {
		o.MentorName = models.MentorNamePlaceholder
		o.MentorAvatar = models.MentorAvatarPlaceholder
	}
	if o.MentorAvatar == "" {
		o.MentorAvatar = models.MentorAvatarPlaceholder
	}

	return &o, nil
}
