package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE NOTIFICATION JOURNAL
// ══════════════════════════════════════════════════════════════════════════════

const migration001 = `
-- One row per published notification.
CREATE TABLE IF NOT EXISTS notification_journal (
    id UUID PRIMARY KEY,
    account VARCHAR(100) NOT NULL,
    event_type VARCHAR(64) NOT NULL,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
    payload JSONB NOT NULL DEFAULT '{}'::jsonb,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_event_type CHECK (event_type IN (
        'classeviva_new_didactics',
        'classeviva_new_noticeboard',
        'classeviva_new_agenda',
        'classeviva_student_agenda_event'
    ))
);

CREATE INDEX IF NOT EXISTS idx_notification_journal_account_time
    ON notification_journal(account, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_notification_journal_event_type
    ON notification_journal(event_type);
`
