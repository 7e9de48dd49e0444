/*
	Project: Kinga - content moderation & appeals for the learning platform
*/
package kinga

/*
TODO: unique index on appeals(flag_id, user_id) once `admin collapse-appeals` has run on every environment
TODO: swagger for /v1
TODO: per-formation classifier prompts (some formations tolerate harsher language)
*/
