package sqlinline

// QEnsureSchema creates the tables used by the API when they are missing.
const QEnsureSchema = `--sql b550caeb-9162-4ff0-8dd6-4e1d8beb5fb0
create table if not exists integration_tokens (
    id uuid primary key,
    provider text not null unique,
    token text not null,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);

create table if not exists video_generations (
    id uuid primary key,
    prompt text not null,
    locale text,
    state text not null,
    error_kind text,
    error_message text,
    storage_key text,
    mime text,
    bytes bigint,
    created_at timestamptz not null default now(),
    finished_at timestamptz,
    updated_at timestamptz not null default now()
);

create index if not exists video_generations_created_at_idx on video_generations (created_at desc);
`
