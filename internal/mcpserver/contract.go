package mcpserver

// LinkFormatContract describes how notes reference each other, for LLM
// consumers writing links into notes.
const LinkFormatContract = `# linkkeeper Link Format Contract

Notes reference each other by **title**, not by path.

## Syntax

` + "```" + `markdown
See [[Weekly standup]] and [[Project X]].
` + "```" + `

## Rules

1. A link is ` + "`" + `[[` + "`" + `, then at least one character, then the first following
   ` + "`" + `]]` + "`" + ` on the same line. ` + "`" + `[[a]] [[b]]` + "`" + ` is two links; ` + "`" + `[[]]` + "`" + ` is not a link.
2. The text between the brackets is the link title. Matching is exact and
   **case-sensitive**: ` + "`" + `[[project x]]` + "`" + ` does not resolve to a note titled "Project X".
3. There is no alias syntax. ` + "`" + `[[a|b]]` + "`" + ` links to a note titled "a|b".
4. A note's title is its frontmatter ` + "`" + `title` + "`" + `, otherwise its first line
   (leading ` + "`" + `#` + "`" + ` heading markers removed), otherwise the file name.

## Resolution

- One note with the title: the link is **resolved** to that note's id.
- No note with the title: the link is **dead**.
- Several notes share the title: the link is **ambiguous** and stays
  unresolved until the titles differ.
- Dead and ambiguous links are listed in the pinned report note
  "🚨 Broken Note Links!", which is trashed once every link resolves.

## Renames

When a note's title changes, every resolved ` + "`" + `[[Old]]` + "`" + ` link to it is rewritten
to ` + "`" + `[[New]]` + "`" + ` on the next maintenance run. Dead or ambiguous links are never
rewritten.
`
