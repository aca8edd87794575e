package sqlinline

const QSelectIntegrationToken = `--sql 8076189d-db45-4acc-b9f1-cd92caa91189
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 54b9b6be-0cbc-47ed-9121-1906750e5751
insert into integration_tokens (id, provider, token, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, now(), now())
on conflict (provider) do update set
    token = excluded.token,
    updated_at = now();
`
