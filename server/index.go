package server

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Background Remover</title>
</head>
<body>
<h1>Background Remover</h1>
<form action="/remove-background" method="post" enctype="multipart/form-data">
<input type="file" name="image" accept="image/*">
<button type="submit">Remove background</button>
</form>
</body>
</html>
`
