package postgres

// Schema — миграции сервиса. SQL встроен в код для упрощения деплоя.
var Schema = []Migration{
	{1, "members", migration001Members},
	{2, "transactions", migration002Transactions},
	{3, "loyalty", migration003Loyalty},
}

// Пустая карта хранится с name = ''. Телефон уникален только у зарегистрированных.
const migration001Members = `
CREATE TABLE IF NOT EXISTS members (
    card_id     VARCHAR(32) PRIMARY KEY,
    phone       VARCHAR(20) NOT NULL DEFAULT '',
    name        VARCHAR(255) NOT NULL DEFAULT '',
    balance     NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    points      BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
    total_spent NUMERIC(14,2) NOT NULL DEFAULT 0,
    tier        VARCHAR(64) NOT NULL DEFAULT '',
    joined_at   TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    version     BIGINT NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_members_phone_active
    ON members(phone) WHERE name <> '' AND phone <> '';
CREATE INDEX IF NOT EXISTS idx_members_created_at ON members(created_at);
CREATE INDEX IF NOT EXISTS idx_members_joined_at ON members(joined_at);
`

const migration002Transactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id             BIGSERIAL PRIMARY KEY,
    transaction_id VARCHAR(64) UNIQUE NOT NULL,
    card_id        VARCHAR(32) NOT NULL,
    type           VARCHAR(16) NOT NULL CHECK (type IN ('TOPUP', 'PAYMENT')),
    amount         NUMERIC(14,2) NOT NULL CHECK (amount > 0),
    balance_before NUMERIC(14,2) NOT NULL,
    balance_after  NUMERIC(14,2) NOT NULL,
    points_earned  BIGINT NOT NULL DEFAULT 0,
    note           TEXT NOT NULL DEFAULT '',
    staff_name     VARCHAR(255) NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_card ON transactions(card_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at DESC);
`

const migration003Loyalty = `
CREATE TABLE IF NOT EXISTS tiers (
    id         INTEGER PRIMARY KEY,
    name       VARCHAR(64) NOT NULL,
    min_spend  NUMERIC(14,2) NOT NULL CHECK (min_spend >= 0),
    multiplier NUMERIC(6,3) NOT NULL CHECK (multiplier >= 0),
    color      VARCHAR(32) NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS settings (
    key        VARCHAR(64) PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
`
