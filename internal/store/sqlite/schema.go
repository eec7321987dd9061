package sqlite

// Fixed table set. The search_index FTS5 table is created lazily on first
// keyword search once work_items is non-empty (see ensureFTS), so it is
// deliberately absent here.
const schema = `
-- Work items table
CREATE TABLE IF NOT EXISTS work_items (
    id TEXT PRIMARY KEY,
    content_hash TEXT,
    title TEXT NOT NULL CHECK(length(title) <= 200),
    description TEXT NOT NULL DEFAULT '',
    item_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'backlog',
    priority TEXT NOT NULL DEFAULT 'medium',
    complexity TEXT NOT NULL DEFAULT '',
    parent_id TEXT,
    dependencies TEXT NOT NULL DEFAULT '[]',
    acceptance_criteria TEXT NOT NULL DEFAULT '[]',
    progress REAL NOT NULL DEFAULT 0 CHECK(progress >= 0 AND progress <= 100),
    assignee TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    embedding BLOB
);

CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
CREATE INDEX IF NOT EXISTS idx_work_items_type ON work_items(item_type);
CREATE INDEX IF NOT EXISTS idx_work_items_parent ON work_items(parent_id);
CREATE INDEX IF NOT EXISTS idx_work_items_created_at ON work_items(created_at);

-- Dependency edges. No foreign keys on purpose: deletes never cascade and
-- dangling endpoints must stay representable so validation can flag them.
CREATE TABLE IF NOT EXISTS dependencies (
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT 'depends_on',
    created_at DATETIME NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (source_id, target_id)
);

CREATE INDEX IF NOT EXISTS idx_dependencies_source ON dependencies(source_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_target ON dependencies(target_id);

-- Execution session log (append-only)
CREATE TABLE IF NOT EXISTS execution_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id TEXT NOT NULL,
    work_item_id TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    task_index INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    details TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_execution_logs_execution ON execution_logs(execution_id);

-- Background task runs (executor driver)
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    work_item_id TEXT NOT NULL,
    execution_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    result TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tasks_work_item ON tasks(work_item_id);

-- File<->store reconciliation state, keyed by path and by work item
CREATE TABLE IF NOT EXISTS sync_records (
    path TEXT PRIMARY KEY,
    work_item_id TEXT NOT NULL,
    checksum TEXT NOT NULL,
    last_synced DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_records_item ON sync_records(work_item_id);

-- Internal state (schema version, fts marker, etc.)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
