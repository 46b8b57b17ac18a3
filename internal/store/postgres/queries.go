package postgres

const queryGetOrderByID = `
SELECT id, customer_id, plan_id, login, secret, session, created_at, updated_at
FROM orders
WHERE id = $1
`

const queryGetOrderOwner = `
SELECT customer_id FROM orders WHERE id = $1
`

const queryUpdateOrderAccount = `
UPDATE orders
SET login = $2, secret = $3, session = $4, updated_at = $5
WHERE id = $1
`

const queryInsertHistoryEntry = `
INSERT INTO order_history (id, order_id, message, created_at)
VALUES ($1, $2, $3, $4)
`

const queryClaimAvailableAccount = `
DELETE FROM pool_accounts
WHERE id = (
    SELECT id FROM pool_accounts
    WHERE status = 'available'
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING id, login, secret, session, status, created_at
`

const queryDeleteAccount = `
DELETE FROM pool_accounts WHERE id = $1
`

const queryCountAvailableAccounts = `
SELECT COUNT(*) FROM pool_accounts WHERE status = 'available'
`

const queryListAvailableAccounts = `
SELECT id, login, secret, session, status, created_at
FROM pool_accounts
WHERE status = 'available'
ORDER BY created_at ASC
LIMIT $1
`

const queryUpdateOrderCredentialsByLogin = `
UPDATE orders
SET secret = $2, session = $3, updated_at = $4
WHERE login = $1
`

const queryUpdateAccountCredentialsByLogin = `
UPDATE pool_accounts
SET secret = $2, session = $3
WHERE login = $1
`

const queryGetToken = `
SELECT token, customer_id, admin, created_at
FROM api_tokens
WHERE token = $1
`
