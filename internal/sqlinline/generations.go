package sqlinline

const QInsertGeneration = `--sql 6b98c0e2-60cd-4f1b-a53e-8f71c1f31026
insert into video_generations (id, prompt, locale, state, created_at, updated_at)
values ($1::uuid, $2::text, nullif($3::text, ''), $4::text, $5::timestamptz, now());
`

const QFinishGeneration = `--sql d8f5fa01-63f8-419c-a231-fbf9c3e77470
update video_generations
set state = $2::text,
    error_kind = nullif($3::text, ''),
    error_message = nullif($4::text, ''),
    storage_key = nullif($5::text, ''),
    mime = nullif($6::text, ''),
    bytes = $7::bigint,
    finished_at = $8::timestamptz,
    updated_at = now()
where id = $1::uuid;
`

const QListRecentGenerations = `--sql 6a2cdc51-ad3a-4a8e-be33-6e0e1a646d8d
select id::text,
       prompt,
       coalesce(locale, ''),
       state,
       coalesce(error_kind, ''),
       coalesce(error_message, ''),
       coalesce(storage_key, ''),
       coalesce(mime, ''),
       coalesce(bytes, 0),
       created_at,
       finished_at
from video_generations
order by created_at desc
limit $1::int;
`
